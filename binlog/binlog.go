// Package binlog encodes and decodes the segment's persisted blobs: insert
// logs (one field's column batch), delta logs (the tombstone log), and the
// primary-key stats blob. A blob is a fixed envelope, a kind-specific
// header, a block-framed payload compressed with zstd or LZ4, and a CRC-32
// (Castagnoli) trailer over everything before it.
package binlog

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"math"

	"github.com/growseg/growseg/model"
)

// ErrCorrupt marks a blob that fails structural or checksum validation.
var ErrCorrupt = errors.New("binlog: corrupt blob")

const (
	magic   = uint32(0x4C425347) // "GSBL"
	version = uint8(1)

	kindInsert = uint8(1)
	kindDelta  = uint8(2)
	kindStats  = uint8(3)

	envelopeSize = 8 // magic + version + kind + compression + reserved
	trailerSize  = 4
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

func appendEnvelope(dst []byte, kind uint8, comp Compression) []byte {
	dst = binary.LittleEndian.AppendUint32(dst, magic)
	dst = append(dst, version, kind, uint8(comp), 0)
	return dst
}

func seal(blob []byte) []byte {
	return binary.LittleEndian.AppendUint32(blob, crc32.Checksum(blob, castagnoli))
}

// openEnvelope validates magic, version and checksum, returning the kind,
// compression and the bytes between envelope and trailer.
func openEnvelope(blob []byte) (uint8, Compression, []byte, error) {
	if len(blob) < envelopeSize+trailerSize {
		return 0, 0, nil, fmt.Errorf("%w: %d bytes", ErrCorrupt, len(blob))
	}
	body := blob[:len(blob)-trailerSize]
	sum := binary.LittleEndian.Uint32(blob[len(blob)-trailerSize:])
	if crc32.Checksum(body, castagnoli) != sum {
		return 0, 0, nil, fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}
	if binary.LittleEndian.Uint32(body) != magic {
		return 0, 0, nil, fmt.Errorf("%w: bad magic", ErrCorrupt)
	}
	if body[4] != version {
		return 0, 0, nil, fmt.Errorf("binlog: unsupported version %d", body[4])
	}
	return body[5], Compression(body[6]), body[envelopeSize:], nil
}

// cursor walks a decoded payload.
type cursor struct {
	buf []byte
	off int
}

func (c *cursor) remaining() int { return len(c.buf) - c.off }

func (c *cursor) bytes(n int) ([]byte, error) {
	if n < 0 || c.remaining() < n {
		return nil, fmt.Errorf("%w: truncated payload", ErrCorrupt)
	}
	b := c.buf[c.off : c.off+n]
	c.off += n
	return b, nil
}

func (c *cursor) u8() (uint8, error) {
	b, err := c.bytes(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (c *cursor) u32() (uint32, error) {
	b, err := c.bytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (c *cursor) u64() (uint64, error) {
	b, err := c.bytes(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (c *cursor) str() (string, error) {
	n, err := c.u32()
	if err != nil {
		return "", err
	}
	b, err := c.bytes(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// EncodeInsert serializes one field's column batch into an insert blob.
func EncodeInsert(fieldID model.FieldID, data model.FieldData, comp Compression) ([]byte, error) {
	payload, dim, err := appendValues(nil, data)
	if err != nil {
		return nil, err
	}
	blob := appendEnvelope(nil, kindInsert, comp)
	blob = binary.LittleEndian.AppendUint64(blob, uint64(fieldID))
	blob = append(blob, uint8(data.Type()))
	blob = binary.LittleEndian.AppendUint32(blob, uint32(dim))
	blob = binary.LittleEndian.AppendUint64(blob, uint64(data.RowCount()))
	blob, err = compressPayload(blob, payload, comp)
	if err != nil {
		return nil, err
	}
	return seal(blob), nil
}

// DecodeInsert parses an insert blob back into the field id and its batch.
func DecodeInsert(blob []byte) (model.FieldID, model.FieldData, error) {
	kind, comp, rest, err := openEnvelope(blob)
	if err != nil {
		return 0, nil, err
	}
	if kind != kindInsert {
		return 0, nil, fmt.Errorf("%w: kind %d is not an insert log", ErrCorrupt, kind)
	}
	if len(rest) < 21 {
		return 0, nil, fmt.Errorf("%w: truncated insert header", ErrCorrupt)
	}
	fieldID := model.FieldID(binary.LittleEndian.Uint64(rest))
	dt := model.DataType(rest[8])
	dim := int(binary.LittleEndian.Uint32(rest[9:]))
	rows := int(binary.LittleEndian.Uint64(rest[13:]))
	payload, err := decompressPayload(rest[21:], comp)
	if err != nil {
		return 0, nil, err
	}
	data, err := readValues(payload, dt, dim, rows)
	if err != nil {
		return 0, nil, err
	}
	return fieldID, data, nil
}

// EncodeDelta serializes the tombstone log: primary keys, then timestamps.
func EncodeDelta(pks []model.PrimaryKey, tss []model.Timestamp, comp Compression) ([]byte, error) {
	if len(pks) != len(tss) {
		return nil, fmt.Errorf("binlog: %d keys with %d timestamps", len(pks), len(tss))
	}
	pkType := model.DataTypeInt64
	if len(pks) > 0 {
		pkType = pks[0].Type()
	}
	var payload []byte
	for _, pk := range pks {
		if pk.Type() != pkType {
			return nil, errors.New("binlog: mixed primary key types")
		}
		if pkType == model.DataTypeVarChar {
			payload = binary.LittleEndian.AppendUint32(payload, uint32(len(pk.VarChar())))
			payload = append(payload, pk.VarChar()...)
		} else {
			payload = binary.LittleEndian.AppendUint64(payload, uint64(pk.Int64()))
		}
	}
	for _, ts := range tss {
		payload = binary.LittleEndian.AppendUint64(payload, uint64(ts))
	}

	blob := appendEnvelope(nil, kindDelta, comp)
	blob = append(blob, uint8(pkType))
	blob = binary.LittleEndian.AppendUint64(blob, uint64(len(pks)))
	blob, err := compressPayload(blob, payload, comp)
	if err != nil {
		return nil, err
	}
	return seal(blob), nil
}

// DecodeDelta parses a delta blob back into tombstones.
func DecodeDelta(blob []byte) ([]model.PrimaryKey, []model.Timestamp, error) {
	kind, comp, rest, err := openEnvelope(blob)
	if err != nil {
		return nil, nil, err
	}
	if kind != kindDelta {
		return nil, nil, fmt.Errorf("%w: kind %d is not a delta log", ErrCorrupt, kind)
	}
	if len(rest) < 9 {
		return nil, nil, fmt.Errorf("%w: truncated delta header", ErrCorrupt)
	}
	pkType := model.DataType(rest[0])
	rows := int(binary.LittleEndian.Uint64(rest[1:]))
	payload, err := decompressPayload(rest[9:], comp)
	if err != nil {
		return nil, nil, err
	}

	c := &cursor{buf: payload}
	pks := make([]model.PrimaryKey, rows)
	for i := 0; i < rows; i++ {
		if pkType == model.DataTypeVarChar {
			s, err := c.str()
			if err != nil {
				return nil, nil, err
			}
			pks[i] = model.NewVarCharPrimaryKey(s)
		} else {
			v, err := c.u64()
			if err != nil {
				return nil, nil, err
			}
			pks[i] = model.NewInt64PrimaryKey(int64(v))
		}
	}
	tss := make([]model.Timestamp, rows)
	for i := 0; i < rows; i++ {
		v, err := c.u64()
		if err != nil {
			return nil, nil, err
		}
		tss[i] = model.Timestamp(v)
	}
	return pks, tss, nil
}

// Stats summarizes the primary keys of one flushed segment.
type Stats struct {
	FieldID  int64  `json:"fieldID"`
	PKType   uint8  `json:"pkType"`
	RowCount int64  `json:"rowCount"`
	MinInt   int64  `json:"minInt,omitempty"`
	MaxInt   int64  `json:"maxInt,omitempty"`
	MinStr   string `json:"minStr,omitempty"`
	MaxStr   string `json:"maxStr,omitempty"`
}

// NewStats computes the key range of a batch.
func NewStats(fieldID model.FieldID, pks []model.PrimaryKey) Stats {
	s := Stats{FieldID: int64(fieldID), RowCount: int64(len(pks))}
	if len(pks) == 0 {
		return s
	}
	minPK, maxPK := pks[0], pks[0]
	for _, pk := range pks[1:] {
		if pk.Less(minPK) {
			minPK = pk
		}
		if maxPK.Less(pk) {
			maxPK = pk
		}
	}
	s.PKType = uint8(minPK.Type())
	if minPK.Type() == model.DataTypeVarChar {
		s.MinStr, s.MaxStr = minPK.VarChar(), maxPK.VarChar()
	} else {
		s.MinInt, s.MaxInt = minPK.Int64(), maxPK.Int64()
	}
	return s
}

// EncodeStats serializes the stats blob as framed JSON.
func EncodeStats(s Stats, comp Compression) ([]byte, error) {
	payload, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("binlog: marshaling stats: %w", err)
	}
	blob := appendEnvelope(nil, kindStats, comp)
	blob, err = compressPayload(blob, payload, comp)
	if err != nil {
		return nil, err
	}
	return seal(blob), nil
}

// DecodeStats parses a stats blob.
func DecodeStats(blob []byte) (Stats, error) {
	kind, comp, rest, err := openEnvelope(blob)
	if err != nil {
		return Stats{}, err
	}
	if kind != kindStats {
		return Stats{}, fmt.Errorf("%w: kind %d is not a stats blob", ErrCorrupt, kind)
	}
	payload, err := decompressPayload(rest, comp)
	if err != nil {
		return Stats{}, err
	}
	var s Stats
	if err := json.Unmarshal(payload, &s); err != nil {
		return Stats{}, fmt.Errorf("binlog: unmarshaling stats: %w", err)
	}
	return s, nil
}

// appendValues serializes a batch's values, returning the vector dimension
// (0 for scalars).
func appendValues(dst []byte, data model.FieldData) ([]byte, int, error) {
	switch d := data.(type) {
	case *model.ScalarData[bool]:
		for _, v := range d.Values {
			if v {
				dst = append(dst, 1)
			} else {
				dst = append(dst, 0)
			}
		}
		return dst, 0, nil
	case *model.ScalarData[int8]:
		for _, v := range d.Values {
			dst = append(dst, byte(v))
		}
		return dst, 0, nil
	case *model.ScalarData[int16]:
		for _, v := range d.Values {
			dst = binary.LittleEndian.AppendUint16(dst, uint16(v))
		}
		return dst, 0, nil
	case *model.ScalarData[int32]:
		for _, v := range d.Values {
			dst = binary.LittleEndian.AppendUint32(dst, uint32(v))
		}
		return dst, 0, nil
	case *model.ScalarData[int64]:
		for _, v := range d.Values {
			dst = binary.LittleEndian.AppendUint64(dst, uint64(v))
		}
		return dst, 0, nil
	case *model.ScalarData[float32]:
		for _, v := range d.Values {
			dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(v))
		}
		return dst, 0, nil
	case *model.ScalarData[float64]:
		for _, v := range d.Values {
			dst = binary.LittleEndian.AppendUint64(dst, math.Float64bits(v))
		}
		return dst, 0, nil
	case *model.ScalarData[string]:
		for _, v := range d.Values {
			dst = binary.LittleEndian.AppendUint32(dst, uint32(len(v)))
			dst = append(dst, v...)
		}
		return dst, 0, nil
	case *model.ScalarData[[]byte]:
		for _, v := range d.Values {
			dst = binary.LittleEndian.AppendUint32(dst, uint32(len(v)))
			dst = append(dst, v...)
		}
		return dst, 0, nil
	case *model.ScalarData[model.Array]:
		for _, v := range d.Values {
			dst = append(dst, uint8(v.ElementType))
			if v.ElementType == model.DataTypeVarChar {
				dst = binary.LittleEndian.AppendUint32(dst, uint32(len(v.Strings)))
				for _, s := range v.Strings {
					dst = binary.LittleEndian.AppendUint32(dst, uint32(len(s)))
					dst = append(dst, s...)
				}
			} else {
				dst = binary.LittleEndian.AppendUint32(dst, uint32(len(v.Int64s)))
				for _, n := range v.Int64s {
					dst = binary.LittleEndian.AppendUint64(dst, uint64(n))
				}
			}
		}
		return dst, 0, nil
	case *model.FloatVectorData:
		for _, v := range d.Values {
			dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(v))
		}
		return dst, d.Dim, nil
	case *model.BinaryVectorData:
		return append(dst, d.Values...), d.Dim, nil
	default:
		return nil, 0, fmt.Errorf("binlog: cannot serialize %T", data)
	}
}

// readValues parses a payload back into a typed batch.
func readValues(payload []byte, dt model.DataType, dim, rows int) (model.FieldData, error) {
	c := &cursor{buf: payload}
	switch dt {
	case model.DataTypeBool:
		values := make([]bool, rows)
		for i := range values {
			b, err := c.u8()
			if err != nil {
				return nil, err
			}
			values[i] = b != 0
		}
		return &model.ScalarData[bool]{Values: values}, nil
	case model.DataTypeInt8:
		values := make([]int8, rows)
		for i := range values {
			b, err := c.u8()
			if err != nil {
				return nil, err
			}
			values[i] = int8(b)
		}
		return &model.ScalarData[int8]{Values: values}, nil
	case model.DataTypeInt16:
		values := make([]int16, rows)
		for i := range values {
			b, err := c.bytes(2)
			if err != nil {
				return nil, err
			}
			values[i] = int16(binary.LittleEndian.Uint16(b))
		}
		return &model.ScalarData[int16]{Values: values}, nil
	case model.DataTypeInt32:
		values := make([]int32, rows)
		for i := range values {
			v, err := c.u32()
			if err != nil {
				return nil, err
			}
			values[i] = int32(v)
		}
		return &model.ScalarData[int32]{Values: values}, nil
	case model.DataTypeInt64:
		values := make([]int64, rows)
		for i := range values {
			v, err := c.u64()
			if err != nil {
				return nil, err
			}
			values[i] = int64(v)
		}
		return &model.ScalarData[int64]{Values: values}, nil
	case model.DataTypeFloat:
		values := make([]float32, rows)
		for i := range values {
			v, err := c.u32()
			if err != nil {
				return nil, err
			}
			values[i] = math.Float32frombits(v)
		}
		return &model.ScalarData[float32]{Values: values}, nil
	case model.DataTypeDouble:
		values := make([]float64, rows)
		for i := range values {
			v, err := c.u64()
			if err != nil {
				return nil, err
			}
			values[i] = math.Float64frombits(v)
		}
		return &model.ScalarData[float64]{Values: values}, nil
	case model.DataTypeVarChar:
		values := make([]string, rows)
		for i := range values {
			s, err := c.str()
			if err != nil {
				return nil, err
			}
			values[i] = s
		}
		return &model.ScalarData[string]{Values: values}, nil
	case model.DataTypeJSON:
		values := make([][]byte, rows)
		for i := range values {
			n, err := c.u32()
			if err != nil {
				return nil, err
			}
			b, err := c.bytes(int(n))
			if err != nil {
				return nil, err
			}
			values[i] = append([]byte(nil), b...)
		}
		return &model.ScalarData[[]byte]{Values: values}, nil
	case model.DataTypeArray:
		values := make([]model.Array, rows)
		for i := range values {
			et, err := c.u8()
			if err != nil {
				return nil, err
			}
			n, err := c.u32()
			if err != nil {
				return nil, err
			}
			arr := model.Array{ElementType: model.DataType(et)}
			if arr.ElementType == model.DataTypeVarChar {
				arr.Strings = make([]string, n)
				for j := range arr.Strings {
					s, err := c.str()
					if err != nil {
						return nil, err
					}
					arr.Strings[j] = s
				}
			} else {
				arr.Int64s = make([]int64, n)
				for j := range arr.Int64s {
					v, err := c.u64()
					if err != nil {
						return nil, err
					}
					arr.Int64s[j] = int64(v)
				}
			}
			values[i] = arr
		}
		return &model.ScalarData[model.Array]{Values: values}, nil
	case model.DataTypeFloatVector:
		values := make([]float32, rows*dim)
		for i := range values {
			v, err := c.u32()
			if err != nil {
				return nil, err
			}
			values[i] = math.Float32frombits(v)
		}
		return &model.FloatVectorData{Dim: dim, Values: values}, nil
	case model.DataTypeBinaryVector:
		b, err := c.bytes(rows * dim / 8)
		if err != nil {
			return nil, err
		}
		return &model.BinaryVectorData{Dim: dim, Values: append([]byte(nil), b...)}, nil
	default:
		return nil, fmt.Errorf("binlog: cannot deserialize data type %s", dt)
	}
}
