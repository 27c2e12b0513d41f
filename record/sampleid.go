package record

// SampleID is the trailer of non sample records when sample_id_all is set. Which fields are populated depends on
// the sample type of the event.
type SampleID struct {
	Pid        uint32
	Tid        uint32
	Time       uint64
	ID         uint64
	StreamID   uint64
	CPU        uint32
	Res        uint32
	Identifier uint64
}

func decodeSampleID(c *cursor, st SampleType) *SampleID {
	var sid SampleID

	if st.Has(SampleTypeTID) {
		sid.Pid = c.u32()
		sid.Tid = c.u32()
	}
	if st.Has(SampleTypeTime) {
		sid.Time = c.u64()
	}
	if st.Has(SampleTypeID) {
		sid.ID = c.u64()
	}
	if st.Has(SampleTypeStreamID) {
		sid.StreamID = c.u64()
	}
	if st.Has(SampleTypeCPU) {
		sid.CPU = c.u32()
		sid.Res = c.u32()
	}
	if st.Has(SampleTypeIdentifier) {
		sid.Identifier = c.u64()
	}

	return &sid
}

// trailed is implemented by records which may be followed by a SampleID
type trailed interface {
	setSampleID(*SampleID)
}

// trailer is embedded in every record type which may be followed by a SampleID. SampleID is nil unless the event
// was created with sample_id_all.
type trailer struct {
	SampleID *SampleID
}

func (t *trailer) setSampleID(sid *SampleID) {
	t.SampleID = sid
}
