package store

import (
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	"github.com/pgvector/pgvector-go"
)

// descriptorColumn scans a stored face descriptor.
type descriptorColumn interface {
	sql.Scanner
	Floats() []float32
}

type dialect struct {
	name string
	// numbered rewrites ? placeholders to $1..$n.
	numbered bool
	// lockStudent selects a student row and holds it for the transaction.
	lockStudent      string
	encodeDescriptor func([]float32) any
	newDescriptor    func() descriptorColumn
	isUniqueError    func(error) bool
}

func (d dialect) bind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

var postgresDialect = dialect{
	name:        BackendPostgres,
	numbered:    true,
	lockStudent: `SELECT id FROM students WHERE id = ? FOR UPDATE`,
	encodeDescriptor: func(v []float32) any {
		return pgvector.NewVector(v)
	},
	newDescriptor: func() descriptorColumn { return &vectorColumn{} },
	isUniqueError: func(err error) bool {
		var pgErr *pgconn.PgError
		return errors.As(err, &pgErr) && pgErr.Code == "23505"
	},
}

var sqliteDialect = dialect{
	name:        BackendSQLite,
	lockStudent: `SELECT id FROM students WHERE id = ?`,
	encodeDescriptor: func(v []float32) any {
		return encodeFloats(v)
	},
	newDescriptor: func() descriptorColumn { return &blobColumn{} },
	isUniqueError: func(err error) bool {
		var se sqlite3.Error
		return errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique
	},
}

type vectorColumn struct{ v pgvector.Vector }

func (c *vectorColumn) Scan(src any) error { return c.v.Scan(src) }
func (c *vectorColumn) Floats() []float32  { return c.v.Slice() }

// blobColumn holds a descriptor as little-endian float32 values.
type blobColumn struct{ f []float32 }

func (c *blobColumn) Scan(src any) error {
	b, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("descriptor: unexpected column type %T", src)
	}
	f, err := decodeFloats(b)
	if err != nil {
		return err
	}
	c.f = f
	return nil
}

func (c *blobColumn) Floats() []float32 { return c.f }

func encodeFloats(v []float32) []byte {
	out := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(out[4*i:], math.Float32bits(f))
	}
	return out
}

func decodeFloats(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("descriptor: %d bytes is not a float32 vector", len(b))
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return out, nil
}
