package slicer

// RoundingSlicer converts symbol values that are already integral on the
// demodulator side (the DQPSK demodulator emits dibit values 0..3 as
// floats) into bytes. Values outside 0..3 clamp.
type RoundingSlicer struct{}

func NewRoundingSlicer() *RoundingSlicer {
	return &RoundingSlicer{}
}

func (r *RoundingSlicer) WorkBuffer(input []float32, output []byte) int {
	for i := 0; i < len(input); i++ {
		v := int(input[i] + 0.5)
		if v < 0 {
			v = 0
		} else if v > 3 {
			v = 3
		}
		output[i] = byte(v)
	}
	return len(input)
}

func (r *RoundingSlicer) Work(items []float32) []byte {
	ret := make([]byte, len(items))
	r.WorkBuffer(items, ret)
	return ret
}

func (r *RoundingSlicer) PredictOutputSize(inputSize int) int {
	return inputSize
}
