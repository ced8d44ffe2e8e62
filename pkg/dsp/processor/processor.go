package processor

import (
	"errors"
	"fmt"
	"time"

	"github.com/norasector/cyclone/pkg/types"
)

// Processor drives an ordered chain of DSPWorkers, carrying buffers from
// block to block and validating that adjacent blocks agree on sample rate
// and data type.
type Processor struct {
	Name        string
	blocks      []*DSPWorker
	initialized bool
}

func NewProcessor(name string) *Processor {
	return &Processor{
		Name: name,
	}
}

func (p *Processor) AddBlock(worker *DSPWorker) {
	p.blocks = append(p.blocks, worker)
}

func (p *Processor) Initialize() error {
	if p.initialized {
		return nil
	}
	if len(p.blocks) < 2 {
		return fmt.Errorf("must specify at least 2 blocks")
	}

	cur := p.blocks[0]
	for i := 1; i < len(p.blocks); i++ {
		next := p.blocks[i]

		if cur.outputDataType != next.inputDataType {
			return fmt.Errorf("cur: %s next %s data type mismatch (%d %d)", cur.Name, next.Name, cur.outputDataType, next.inputDataType)
		}
		if cur.OutputRate != next.InputRate {
			return fmt.Errorf("cur: %s next %s rate mismatch (%d %d)", cur.Name, next.Name, cur.OutputRate, next.InputRate)
		}
		cur = next
	}

	p.initialized = true

	return nil
}

// processData pushes one buffer through every block. Exactly one of the
// three inputs may be non-empty.
func (p *Processor) processData(cmplxInput []complex64, floatInput []float32, byteInput []byte, expectedInputType, expectedOutputType DataType, metrics map[string]interface{}) ([]complex64, []float32, []byte, error) {
	cnt := 0
	if len(cmplxInput) > 0 {
		cnt++
	}
	if len(floatInput) > 0 {
		cnt++
	}
	if len(byteInput) > 0 {
		cnt++
	}
	if cnt == 0 {
		return nil, nil, nil, errors.New("must specify input")
	}
	if cnt > 1 {
		return nil, nil, nil, errors.New("may only specify one input")
	}

	if p.blocks[0].inputDataType != expectedInputType {
		return nil, nil, nil, fmt.Errorf("invalid input type: got %d expected %d", p.blocks[0].inputDataType, expectedInputType)
	}
	if p.blocks[len(p.blocks)-1].outputDataType != expectedOutputType {
		return nil, nil, nil, fmt.Errorf("invalid output type: got %d expected %d", p.blocks[len(p.blocks)-1].outputDataType, expectedOutputType)
	}

	var cmplxOutput []complex64
	var floatOutput []float32
	var byteOutput []byte

	for _, block := range p.blocks {
		if block.inputDataType != expectedInputType {
			return nil, nil, nil, fmt.Errorf("error in %s: expected %d got %d input type", block.Name, expectedInputType, block.inputDataType)
		}

		var work func()

		switch block.inputDataType {
		case DataTypeComplex:
			switch block.outputDataType {
			case DataTypeComplex:
				if block.cOutputBuffer == nil {
					block.cOutputBuffer = make([]complex64, block.ccWorker.PredictOutputSize(len(cmplxInput))*2)
				}
				work = func() {
					length := block.ccWorker.WorkBuffer(cmplxInput, block.cOutputBuffer)
					cmplxOutput = block.cOutputBuffer[:length]

					if block.complexTap != nil {
						block.complexTap.AppendComplex(cmplxOutput)
					}
				}

			case DataTypeFloat:
				if block.fOutputBuffer == nil {
					block.fOutputBuffer = make([]float32, block.cfWorker.PredictOutputSize(len(cmplxInput))*2)
				}
				work = func() {
					length := block.cfWorker.WorkBuffer(cmplxInput, block.fOutputBuffer)
					floatOutput = block.fOutputBuffer[:length]

					if block.floatTap != nil {
						block.floatTap.AppendFloat(floatOutput)
					}
				}
			default:
				return nil, nil, nil, fmt.Errorf("%s unknown output type %d for input %d", block.Name, block.outputDataType, block.inputDataType)
			}

		case DataTypeFloat:
			switch block.outputDataType {
			case DataTypeFloat:
				if block.fOutputBuffer == nil || len(block.fOutputBuffer) < block.ffWorker.PredictOutputSize(len(floatInput)) {
					block.fOutputBuffer = make([]float32, block.ffWorker.PredictOutputSize(len(floatInput))*2)
				}
				work = func() {
					length := block.ffWorker.WorkBuffer(floatInput, block.fOutputBuffer)
					floatOutput = block.fOutputBuffer[:length]

					if block.floatTap != nil {
						block.floatTap.AppendFloat(floatOutput)
					}
				}

			case DataTypeBytes:
				if block.bOutputBuffer == nil {
					block.bOutputBuffer = make([]byte, block.fbWorker.PredictOutputSize(len(floatInput))*2)
				}
				work = func() {
					length := block.fbWorker.WorkBuffer(floatInput, block.bOutputBuffer)
					byteOutput = block.bOutputBuffer[:length]
				}
			default:
				return nil, nil, nil, fmt.Errorf("%s unknown output type %d for input %d", block.Name, block.outputDataType, block.inputDataType)
			}

		case DataTypeBytes:
			switch block.outputDataType {
			case DataTypeBytes:
				if block.bOutputBuffer == nil {
					block.bOutputBuffer = make([]byte, block.bbWorker.PredictOutputSize(len(byteInput))*2)
				}
				work = func() {
					length := block.bbWorker.WorkBuffer(byteInput, block.bOutputBuffer)
					byteOutput = block.bOutputBuffer[:length]
				}
			default:
				return nil, nil, nil, fmt.Errorf("%s unknown output type %d for input %d", block.Name, block.outputDataType, block.inputDataType)
			}

		default:
			return nil, nil, nil, fmt.Errorf("unknown input type %d", block.inputDataType)
		}

		start := time.Now()
		work()
		if metrics != nil {
			metrics[fmt.Sprintf("%s_duration", block.Name)] = time.Since(start).Microseconds()
		}

		if block != p.blocks[len(p.blocks)-1] {
			floatInput = floatOutput
			cmplxInput = cmplxOutput
			byteInput = byteOutput

			floatOutput = nil
			cmplxOutput = nil
			byteOutput = nil
			expectedInputType = block.outputDataType
		}
	}
	return cmplxOutput, floatOutput, byteOutput, nil
}

// ProcessComplexToBinary runs a complex sample segment down to sliced
// symbols (control-channel chains).
func (p *Processor) ProcessComplexToBinary(input *types.SegmentComplex64, metrics map[string]interface{}) (*types.SegmentBinaryBytes, error) {
	if !p.initialized {
		if err := p.Initialize(); err != nil {
			return nil, err
		}
	}

	_, _, byteOutput, err := p.processData(input.Data, nil, nil, DataTypeComplex, DataTypeBytes, metrics)
	if err != nil {
		return nil, err
	}

	return &types.SegmentBinaryBytes{
		SymbolRate:    p.blocks[len(p.blocks)-1].OutputRate,
		Data:          byteOutput,
		SegmentNumber: input.SegmentNumber,
	}, nil
}

// ProcessComplexToFloat runs a complex sample segment down to real-valued
// audio (voice chains).
func (p *Processor) ProcessComplexToFloat(input *types.SegmentComplex64, metrics map[string]interface{}) (*types.SegmentFloat32, error) {
	if !p.initialized {
		if err := p.Initialize(); err != nil {
			return nil, err
		}
	}

	_, floatOutput, _, err := p.processData(input.Data, nil, nil, DataTypeComplex, DataTypeFloat, metrics)
	if err != nil {
		return nil, err
	}

	return &types.SegmentFloat32{
		SegmentNumber: input.SegmentNumber,
		SampleRate:    p.blocks[len(p.blocks)-1].OutputRate,
		Data:          floatOutput,
	}, nil
}
