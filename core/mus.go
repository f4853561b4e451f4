package core

import (
	"time"

	"github.com/mus-format/mus-go/ord"
	"github.com/mus-format/mus-go/raw"
	"github.com/mus-format/mus-go/varint"
)

// Hand-written MUS serializers for the records stored as badger values.
// Field order is the wire format; reordering fields here breaks every
// value already on disk. Timestamps are encoded as unix micros.
var (
	IDMUS    = idMUS{}
	TaskMUS  = taskMUS{}
	PointMUS = pointMUS{}
)

type idMUS struct{}

func (idMUS) Marshal(v ID, bs []byte) (n int) {
	return varint.Uint64.Marshal(uint64(v), bs)
}

func (idMUS) Unmarshal(bs []byte) (v ID, n int, err error) {
	u, n, err := varint.Uint64.Unmarshal(bs)
	return ID(u), n, err
}

func (idMUS) Size(v ID) (size int) {
	return varint.Uint64.Size(uint64(v))
}

type taskMUS struct{}

func (taskMUS) Marshal(v Task, bs []byte) (n int) {
	n = ord.String.Marshal(v.Id, bs)
	n += ord.String.Marshal(v.TaskType, bs[n:])
	n += ord.String.Marshal(v.Status, bs[n:])
	n += varint.Int.Marshal(v.Retries, bs[n:])
	n += marshalTimePtr(v.LastAttemptAt, bs[n:])
	n += ord.String.Marshal(v.Error, bs[n:])
	n += marshalTime(v.CreatedAt, bs[n:])
	n += marshalTime(v.UpdatedAt, bs[n:])
	n += marshalTimePtr(v.StartedAt, bs[n:])
	n += marshalTimePtr(v.CompletedAt, bs[n:])
	n += varint.Int.Marshal(v.Progress, bs[n:])
	n += marshalStringMap(v.Context, bs[n:])
	return n
}

func (taskMUS) Unmarshal(bs []byte) (v Task, n int, err error) {
	var n1 int
	v.Id, n, err = ord.String.Unmarshal(bs)
	if err != nil {
		return
	}
	v.TaskType, n1, err = ord.String.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	v.Status, n1, err = ord.String.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	v.Retries, n1, err = varint.Int.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	v.LastAttemptAt, n1, err = unmarshalTimePtr(bs[n:])
	n += n1
	if err != nil {
		return
	}
	v.Error, n1, err = ord.String.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	v.CreatedAt, n1, err = unmarshalTime(bs[n:])
	n += n1
	if err != nil {
		return
	}
	v.UpdatedAt, n1, err = unmarshalTime(bs[n:])
	n += n1
	if err != nil {
		return
	}
	v.StartedAt, n1, err = unmarshalTimePtr(bs[n:])
	n += n1
	if err != nil {
		return
	}
	v.CompletedAt, n1, err = unmarshalTimePtr(bs[n:])
	n += n1
	if err != nil {
		return
	}
	v.Progress, n1, err = varint.Int.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	v.Context, n1, err = unmarshalStringMap(bs[n:])
	n += n1
	return
}

func (taskMUS) Size(v Task) (size int) {
	size = ord.String.Size(v.Id)
	size += ord.String.Size(v.TaskType)
	size += ord.String.Size(v.Status)
	size += varint.Int.Size(v.Retries)
	size += sizeTimePtr(v.LastAttemptAt)
	size += ord.String.Size(v.Error)
	size += sizeTime(v.CreatedAt)
	size += sizeTime(v.UpdatedAt)
	size += sizeTimePtr(v.StartedAt)
	size += sizeTimePtr(v.CompletedAt)
	size += varint.Int.Size(v.Progress)
	size += sizeStringMap(v.Context)
	return size
}

type pointMUS struct{}

func (pointMUS) Marshal(v Point, bs []byte) (n int) {
	n = IDMUS.Marshal(v.Id, bs)
	n += ord.String.Marshal(v.CollectionId, bs[n:])
	n += ord.String.Marshal(v.DocumentId, bs[n:])
	n += varint.Int.Marshal(v.ChunkIndex, bs[n:])
	n += varint.PositiveInt.Marshal(len(v.Vector), bs[n:])
	for _, x := range v.Vector {
		n += raw.Float32.Marshal(x, bs[n:])
	}
	n += marshalStringMap(v.Payload, bs[n:])
	return n
}

func (pointMUS) Unmarshal(bs []byte) (v Point, n int, err error) {
	var n1 int
	v.Id, n, err = IDMUS.Unmarshal(bs)
	if err != nil {
		return
	}
	v.CollectionId, n1, err = ord.String.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	v.DocumentId, n1, err = ord.String.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	v.ChunkIndex, n1, err = varint.Int.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	var l int
	l, n1, err = varint.PositiveInt.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	if l > 0 {
		v.Vector = make([]float32, l)
		for i := 0; i < l; i++ {
			v.Vector[i], n1, err = raw.Float32.Unmarshal(bs[n:])
			n += n1
			if err != nil {
				return
			}
		}
	}
	v.Payload, n1, err = unmarshalStringMap(bs[n:])
	n += n1
	return
}

func (pointMUS) Size(v Point) (size int) {
	size = IDMUS.Size(v.Id)
	size += ord.String.Size(v.CollectionId)
	size += ord.String.Size(v.DocumentId)
	size += varint.Int.Size(v.ChunkIndex)
	size += varint.PositiveInt.Size(len(v.Vector))
	for _, x := range v.Vector {
		size += raw.Float32.Size(x)
	}
	size += sizeStringMap(v.Payload)
	return size
}

func marshalTime(v time.Time, bs []byte) (n int) {
	return varint.Int64.Marshal(v.UnixMicro(), bs)
}

func unmarshalTime(bs []byte) (v time.Time, n int, err error) {
	micros, n, err := varint.Int64.Unmarshal(bs)
	if err != nil {
		return
	}
	return time.UnixMicro(micros).UTC(), n, nil
}

func sizeTime(v time.Time) (size int) {
	return varint.Int64.Size(v.UnixMicro())
}

func marshalTimePtr(v *time.Time, bs []byte) (n int) {
	n = ord.Bool.Marshal(v != nil, bs)
	if v != nil {
		n += marshalTime(*v, bs[n:])
	}
	return n
}

func unmarshalTimePtr(bs []byte) (v *time.Time, n int, err error) {
	present, n, err := ord.Bool.Unmarshal(bs)
	if err != nil || !present {
		return nil, n, err
	}
	tm, n1, err := unmarshalTime(bs[n:])
	n += n1
	if err != nil {
		return nil, n, err
	}
	return &tm, n, nil
}

func sizeTimePtr(v *time.Time) (size int) {
	size = ord.Bool.Size(v != nil)
	if v != nil {
		size += sizeTime(*v)
	}
	return size
}

func marshalStringMap(v map[string]string, bs []byte) (n int) {
	n = varint.PositiveInt.Marshal(len(v), bs)
	for k, val := range v {
		n += ord.String.Marshal(k, bs[n:])
		n += ord.String.Marshal(val, bs[n:])
	}
	return n
}

func unmarshalStringMap(bs []byte) (v map[string]string, n int, err error) {
	l, n, err := varint.PositiveInt.Unmarshal(bs)
	if err != nil || l == 0 {
		return nil, n, err
	}
	v = make(map[string]string, l)
	for i := 0; i < l; i++ {
		var k, val string
		var n1 int
		k, n1, err = ord.String.Unmarshal(bs[n:])
		n += n1
		if err != nil {
			return nil, n, err
		}
		val, n1, err = ord.String.Unmarshal(bs[n:])
		n += n1
		if err != nil {
			return nil, n, err
		}
		v[k] = val
	}
	return v, n, nil
}

func sizeStringMap(v map[string]string) (size int) {
	size = varint.PositiveInt.Size(len(v))
	for k, val := range v {
		size += ord.String.Size(k) + ord.String.Size(val)
	}
	return size
}
