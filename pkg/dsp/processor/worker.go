package processor

type DataType int

const (
	DataTypeComplex DataType = iota
	DataTypeFloat
	DataTypeBytes
)

// ComplexTap observes complex output of a stage (e.g. for spectrum
// snapshots). Implementations must not retain the slice.
type ComplexTap interface {
	AppendComplex([]complex64)
}

// FloatTap observes real-valued output of a stage.
type FloatTap interface {
	AppendFloat([]float32)
}

// DSPWorker wraps one signal-processing block together with its rate
// contract so a Processor can validate and drive a whole chain.
type DSPWorker struct {
	Name       string
	InputRate  int
	OutputRate int

	inputDataType  DataType
	outputDataType DataType

	ccWorker CCWorker
	cfWorker CFWorker
	ffWorker FFWorker
	fbWorker FBWorker
	bbWorker BBWorker

	fOutputBuffer []float32
	cOutputBuffer []complex64
	bOutputBuffer []byte

	complexTap ComplexTap
	floatTap   FloatTap
}

type DSPWorkerOption func(r *DSPWorker)

// WithComplexTap attaches a spectrum observer to the block's output.
func WithComplexTap(tap ComplexTap) DSPWorkerOption {
	return func(r *DSPWorker) {
		r.complexTap = tap
	}
}

// WithFloatTap attaches a time-domain observer to the block's output.
func WithFloatTap(tap FloatTap) DSPWorkerOption {
	return func(r *DSPWorker) {
		r.floatTap = tap
	}
}

func baseWorker(name string, inputRate, outputRate int) *DSPWorker {
	return &DSPWorker{
		Name:       name,
		InputRate:  inputRate,
		OutputRate: outputRate,
	}
}

func NewDSPWorkerCC(name string, inputRate, outputRate int, worker CCWorker, opts ...DSPWorkerOption) *DSPWorker {
	ret := baseWorker(name, inputRate, outputRate)
	ret.inputDataType = DataTypeComplex
	ret.outputDataType = DataTypeComplex
	ret.ccWorker = worker

	for _, opt := range opts {
		opt(ret)
	}

	return ret
}

func NewDSPWorkerCF(name string, inputRate, outputRate int, worker CFWorker, opts ...DSPWorkerOption) *DSPWorker {
	ret := baseWorker(name, inputRate, outputRate)
	ret.inputDataType = DataTypeComplex
	ret.outputDataType = DataTypeFloat
	ret.cfWorker = worker

	for _, opt := range opts {
		opt(ret)
	}

	return ret
}

func NewDSPWorkerFF(name string, inputRate, outputRate int, worker FFWorker, opts ...DSPWorkerOption) *DSPWorker {
	ret := baseWorker(name, inputRate, outputRate)
	ret.inputDataType = DataTypeFloat
	ret.outputDataType = DataTypeFloat
	ret.ffWorker = worker

	for _, opt := range opts {
		opt(ret)
	}

	return ret
}

func NewDSPWorkerFB(name string, inputRate, outputRate int, worker FBWorker, opts ...DSPWorkerOption) *DSPWorker {
	ret := baseWorker(name, inputRate, outputRate)
	ret.inputDataType = DataTypeFloat
	ret.outputDataType = DataTypeBytes
	ret.fbWorker = worker

	for _, opt := range opts {
		opt(ret)
	}

	return ret
}

func NewDSPWorkerBB(name string, inputRate, outputRate int, worker BBWorker, opts ...DSPWorkerOption) *DSPWorker {
	ret := baseWorker(name, inputRate, outputRate)
	ret.inputDataType = DataTypeBytes
	ret.outputDataType = DataTypeBytes
	ret.bbWorker = worker

	for _, opt := range opts {
		opt(ret)
	}

	return ret
}

// Complex in, complex out.
type CCWorker interface {
	WorkBuffer([]complex64, []complex64) int
	PredictOutputSize(int) int
}

// Complex in, float out.
type CFWorker interface {
	WorkBuffer([]complex64, []float32) int
	PredictOutputSize(int) int
}

// Float in, symbol bytes out (1 symbol per byte).
type FBWorker interface {
	WorkBuffer([]float32, []byte) int
	PredictOutputSize(int) int
}

// Float in, float out.
type FFWorker interface {
	WorkBuffer([]float32, []float32) int
	PredictOutputSize(int) int
}

// Bytes in, bytes out.
type BBWorker interface {
	WorkBuffer([]byte, []byte) int
	PredictOutputSize(int) int
}
