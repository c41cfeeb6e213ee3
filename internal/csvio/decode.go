package csvio

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/transform"
)

// Encoding names reported back to callers.
const (
	EncodingUTF8  = "UTF-8"
	EncodingEUCKR = "EUC-KR"
)

const utf8BOM = "\uFEFF"

// ErrDecode is matched by errors.Is when neither encoding could be parsed.
var ErrDecode = errors.New("csv could not be decoded")

// DecodeError keeps the failure of each attempted encoding.
type DecodeError struct {
	Primary  error
	Fallback error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode csv: %s: %v; %s: %v", EncodingUTF8, e.Primary, EncodingEUCKR, e.Fallback)
}

func (e *DecodeError) Is(target error) bool {
	return target == ErrDecode
}

func (e *DecodeError) Unwrap() []error {
	return []error{e.Primary, e.Fallback}
}

// Decode parses raw CSV bytes as UTF-8 and retries the identical parse as
// EUC-KR when that fails. It returns the table and the encoding that worked.
func Decode(data []byte) (*Table, string, error) {
	table, err := decodeUTF8(data)
	if err == nil {
		return table, EncodingUTF8, nil
	}

	fallback, ferr := decodeEUCKR(data)
	if ferr == nil {
		return fallback, EncodingEUCKR, nil
	}
	return nil, "", &DecodeError{Primary: err, Fallback: ferr}
}

func decodeUTF8(data []byte) (*Table, error) {
	if !utf8.Valid(data) {
		return nil, errors.New("invalid utf-8 sequence")
	}
	return Parse(bytes.NewReader(data))
}

func decodeEUCKR(data []byte) (*Table, error) {
	decoded, _, err := transform.Bytes(korean.EUCKR.NewDecoder(), data)
	if err != nil {
		return nil, fmt.Errorf("transcode: %w", err)
	}
	// The decoder substitutes U+FFFD for bytes outside EUC-KR, a rune the
	// charset itself cannot encode.
	if bytes.ContainsRune(decoded, utf8.RuneError) {
		return nil, errors.New("invalid euc-kr sequence")
	}
	return Parse(bytes.NewReader(decoded))
}

// Parse reads a header row followed by data rows. Quotes are handled
// leniently, rows may have any number of fields and blank lines are skipped.
// An empty input yields an empty table.
func Parse(r io.Reader) (*Table, error) {
	reader := csv.NewReader(r)
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return NewTable(nil, nil), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	header = stripHeaderBOM(header)

	var rows [][]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", len(rows)+1, err)
		}
		rows = append(rows, record)
	}
	return NewTable(header, rows), nil
}

func stripHeaderBOM(header []string) []string {
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], utf8BOM)
	}
	return header
}
