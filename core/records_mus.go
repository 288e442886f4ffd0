package core

import (
	"github.com/mus-format/mus-go"
	"github.com/mus-format/mus-go/ord"
	"github.com/mus-format/mus-go/raw"
	"github.com/mus-format/mus-go/varint"
)

// Serializers for the records persisted by the key/value store.
// Timestamps are stored as Unix microseconds in UTC.
var (
	IDMUS           = idMUS{}
	IngestStatusMUS = ingestStatusMUS{}
	EmailMUS        = emailMUS{}
	EmailSectionMUS = emailSectionMUS{}
)

var (
	addressesMUS = ord.NewSliceSer[string](ord.String)
	embeddingMUS = ord.NewSliceSer[float32](raw.Float32)
	timeMUS      = raw.TimeUnixMicroUTC
)

var (
	_ mus.Serializer[ID]           = IDMUS
	_ mus.Serializer[IngestStatus] = IngestStatusMUS
	_ mus.Serializer[Email]        = EmailMUS
	_ mus.Serializer[EmailSection] = EmailSectionMUS
)

type idMUS struct{}

func (s idMUS) Marshal(v ID, bs []byte) (n int) {
	return varint.Uint64.Marshal(uint64(v), bs)
}

func (s idMUS) Unmarshal(bs []byte) (v ID, n int, err error) {
	u, n, err := varint.Uint64.Unmarshal(bs)
	return ID(u), n, err
}

func (s idMUS) Size(v ID) (size int) {
	return varint.Uint64.Size(uint64(v))
}

func (s idMUS) Skip(bs []byte) (n int, err error) {
	return varint.Uint64.Skip(bs)
}

type ingestStatusMUS struct{}

func (s ingestStatusMUS) Marshal(v IngestStatus, bs []byte) (n int) {
	return ord.String.Marshal(string(v), bs)
}

func (s ingestStatusMUS) Unmarshal(bs []byte) (v IngestStatus, n int, err error) {
	str, n, err := ord.String.Unmarshal(bs)
	return IngestStatus(str), n, err
}

func (s ingestStatusMUS) Size(v IngestStatus) (size int) {
	return ord.String.Size(string(v))
}

func (s ingestStatusMUS) Skip(bs []byte) (n int, err error) {
	return ord.String.Skip(bs)
}

type emailMUS struct{}

func (s emailMUS) Marshal(v Email, bs []byte) (n int) {
	n = IDMUS.Marshal(v.Id, bs)
	n += ord.String.Marshal(v.Subject, bs[n:])
	n += ord.String.Marshal(v.Sender, bs[n:])
	n += addressesMUS.Marshal(v.Recipients, bs[n:])
	n += addressesMUS.Marshal(v.CC, bs[n:])
	n += addressesMUS.Marshal(v.BCC, bs[n:])
	n += ord.String.Marshal(v.Body, bs[n:])
	n += IngestStatusMUS.Marshal(v.Status, bs[n:])
	n += varint.Int.Marshal(v.SectionCount, bs[n:])
	n += timeMUS.Marshal(v.InsertedAt, bs[n:])
	return n + timeMUS.Marshal(v.UpdatedAt, bs[n:])
}

func (s emailMUS) Unmarshal(bs []byte) (v Email, n int, err error) {
	v.Id, n, err = IDMUS.Unmarshal(bs)
	if err != nil {
		return
	}
	var n1 int
	v.Subject, n1, err = ord.String.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	v.Sender, n1, err = ord.String.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	v.Recipients, n1, err = addressesMUS.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	v.CC, n1, err = addressesMUS.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	v.BCC, n1, err = addressesMUS.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	v.Body, n1, err = ord.String.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	v.Status, n1, err = IngestStatusMUS.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	v.SectionCount, n1, err = varint.Int.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	v.InsertedAt, n1, err = timeMUS.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	v.UpdatedAt, n1, err = timeMUS.Unmarshal(bs[n:])
	n += n1
	return
}

func (s emailMUS) Size(v Email) (size int) {
	size = IDMUS.Size(v.Id)
	size += ord.String.Size(v.Subject)
	size += ord.String.Size(v.Sender)
	size += addressesMUS.Size(v.Recipients)
	size += addressesMUS.Size(v.CC)
	size += addressesMUS.Size(v.BCC)
	size += ord.String.Size(v.Body)
	size += IngestStatusMUS.Size(v.Status)
	size += varint.Int.Size(v.SectionCount)
	size += timeMUS.Size(v.InsertedAt)
	return size + timeMUS.Size(v.UpdatedAt)
}

func (s emailMUS) Skip(bs []byte) (n int, err error) {
	skips := []func([]byte) (int, error){
		IDMUS.Skip,
		ord.String.Skip,
		ord.String.Skip,
		addressesMUS.Skip,
		addressesMUS.Skip,
		addressesMUS.Skip,
		ord.String.Skip,
		IngestStatusMUS.Skip,
		varint.Int.Skip,
		timeMUS.Skip,
		timeMUS.Skip,
	}
	return skipAll(bs, skips)
}

type emailSectionMUS struct{}

func (s emailSectionMUS) Marshal(v EmailSection, bs []byte) (n int) {
	n = IDMUS.Marshal(v.EmailId, bs)
	n += ord.String.Marshal(v.Content, bs[n:])
	n += embeddingMUS.Marshal(v.Embedding, bs[n:])
	n += varint.Int.Marshal(v.Order, bs[n:])
	n += IDMUS.Marshal(v.ContentHash, bs[n:])
	return n + timeMUS.Marshal(v.InsertedAt, bs[n:])
}

func (s emailSectionMUS) Unmarshal(bs []byte) (v EmailSection, n int, err error) {
	v.EmailId, n, err = IDMUS.Unmarshal(bs)
	if err != nil {
		return
	}
	var n1 int
	v.Content, n1, err = ord.String.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	v.Embedding, n1, err = embeddingMUS.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	v.Order, n1, err = varint.Int.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	v.ContentHash, n1, err = IDMUS.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	v.InsertedAt, n1, err = timeMUS.Unmarshal(bs[n:])
	n += n1
	return
}

func (s emailSectionMUS) Size(v EmailSection) (size int) {
	size = IDMUS.Size(v.EmailId)
	size += ord.String.Size(v.Content)
	size += embeddingMUS.Size(v.Embedding)
	size += varint.Int.Size(v.Order)
	size += IDMUS.Size(v.ContentHash)
	return size + timeMUS.Size(v.InsertedAt)
}

func (s emailSectionMUS) Skip(bs []byte) (n int, err error) {
	skips := []func([]byte) (int, error){
		IDMUS.Skip,
		ord.String.Skip,
		embeddingMUS.Skip,
		varint.Int.Skip,
		IDMUS.Skip,
		timeMUS.Skip,
	}
	return skipAll(bs, skips)
}

func skipAll(bs []byte, skips []func([]byte) (int, error)) (n int, err error) {
	for _, skip := range skips {
		n1, err := skip(bs[n:])
		n += n1
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

