package storage

// DefaultCollectionName is the Qdrant collection holding the index.
const DefaultCollectionName = "drug_chunks"

// vectorName is the named vector carrying chunk embeddings.
const vectorName = "content"

// Point types stored in the collection.
const (
	pointTypeIndex = "index" // single metadata point: model and dimension
	pointTypeChunk = "chunk"
)

// metadataPointID is the fixed id of the index metadata point.
const metadataPointID = "6f1b7c8e-0d2a-5b43-9e1f-3a7d5c2b9e40"

// Payload fields of chunk points.
const (
	fieldType       = "type"
	fieldSeq        = "seq"
	fieldRecordID   = "record_id"
	fieldDrugName   = "drug_name"
	fieldSection    = "section"
	fieldOrdinal    = "ordinal"
	fieldText       = "text"
	fieldProvenance = "provenance"
	fieldModel      = "model"
	fieldDimension  = "dimension"
	fieldCount      = "count"
)
