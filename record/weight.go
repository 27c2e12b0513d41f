package record

// Weight is the weight of a sample, one of WeightFull or WeightVars depending on whether PERF_SAMPLE_WEIGHT or
// PERF_SAMPLE_WEIGHT_STRUCT was requested.
type Weight interface {
	isWeight()
}

// WeightFull is the weight as a single 64 bit value (PERF_SAMPLE_WEIGHT)
type WeightFull uint64

func (WeightFull) isWeight() {}

// WeightVars is the weight split into its components (PERF_SAMPLE_WEIGHT_STRUCT, since linux 5.12).
// On x86, Var1 is the access latency and Var2 the instruction latency.
type WeightVars struct {
	Var1 uint32
	Var2 uint16
	Var3 uint16
}

func (WeightVars) isWeight() {}

func decodeWeight(c *cursor, st SampleType) Weight {
	if st.Has(SampleTypeWeightStruct) {
		return WeightVars{
			Var1: c.u32(),
			Var2: c.u16(),
			Var3: c.u16(),
		}
	}
	return WeightFull(c.u64())
}
