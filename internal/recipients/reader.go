// Package recipients reads the recipient list from a delimited text file.
package recipients

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"bulksms/internal/domain"

	"github.com/nyaruka/phonenumbers"
	"github.com/rs/zerolog"
)

var (
	ErrEmptyFile      = errors.New("recipient file is empty")
	ErrNoPhoneColumn  = errors.New("no phone number column found in header")
	ErrNoRecipientRow = errors.New("recipient file has a header but no rows")
)

var (
	nameAliases = []string{
		"displayname", "name", "fullname", "contact", "contactname",
		"nome", "nominativo", "nomecompleto", "cliente",
	}
	phoneAliases = []string{
		"phonenumber", "phone", "mobile", "mobilenumber", "cell", "cellphone", "msisdn",
		"cellulare", "telefono", "numero", "numerotelefono", "numerocellulare",
	}
)

// Options configures a Reader.
type Options struct {
	// DefaultRegion is the ISO country used for numbers without a +prefix.
	DefaultRegion string
	Log           zerolog.Logger
}

// Stats describes what was read.
type Stats struct {
	Rows         int
	MissingPhone int
	InvalidPhone int
	Delimiter    rune
}

// ReadFile opens path and reads every recipient from it.
func ReadFile(path string, opts Options) ([]domain.Recipient, Stats, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, Stats{}, fmt.Errorf("open recipients: %w", err)
	}
	defer f.Close()
	return Read(f, opts)
}

// Read parses a header row followed by one recipient per row. Phone numbers
// are normalised to E.164; a number that cannot be parsed is blanked so the
// row is reported as skipped instead of being sent to a wrong destination.
func Read(r io.Reader, opts Options) ([]domain.Recipient, Stats, error) {
	region := strings.ToUpper(strings.TrimSpace(opts.DefaultRegion))
	if region == "" {
		region = "IT"
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, Stats{}, fmt.Errorf("read recipients: %w", err)
	}
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, Stats{}, ErrEmptyFile
	}

	st := Stats{Delimiter: sniffDelimiter(data)}
	cr := csv.NewReader(bytes.NewReader(data))
	cr.Comma = st.Delimiter
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.LazyQuotes = true

	header, err := cr.Read()
	if err != nil {
		return nil, st, fmt.Errorf("read header: %w", err)
	}
	cols := detectColumns(header)
	if cols.phone < 0 {
		return nil, st, ErrNoPhoneColumn
	}

	var out []domain.Recipient
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, st, fmt.Errorf("read row %d: %w", st.Rows+2, err)
		}
		if blank(rec) {
			continue
		}
		st.Rows++

		rcp := domain.Recipient{
			DisplayName:  field(rec, cols.name),
			CustomFields: make(map[string]string, len(cols.custom)),
		}
		for idx, key := range cols.custom {
			rcp.CustomFields[key] = field(rec, idx)
		}

		raw := field(rec, cols.phone)
		switch phone, err := normalize(raw, region); {
		case raw == "":
			st.MissingPhone++
		case err != nil:
			st.InvalidPhone++
			opts.Log.Warn().Int("row", st.Rows+1).Str("phone", raw).Err(err).Msg("invalid phone number, row will be skipped")
		default:
			rcp.PhoneNumber = phone
		}
		out = append(out, rcp)
	}

	if len(out) == 0 {
		return nil, st, ErrNoRecipientRow
	}
	return out, st, nil
}

type columns struct {
	name   int
	phone  int
	custom map[int]string
}

func detectColumns(header []string) columns {
	c := columns{name: -1, phone: -1, custom: map[int]string{}}
	for i, h := range header {
		key := canonical(h)
		switch {
		case c.phone < 0 && slices.Contains(phoneAliases, key):
			c.phone = i
		case c.name < 0 && slices.Contains(nameAliases, key):
			c.name = i
		default:
			if name := strings.TrimSpace(h); name != "" {
				c.custom[i] = name
			}
		}
	}
	return c
}

func normalize(raw, region string) (string, error) {
	if raw == "" {
		return "", nil
	}
	num, err := phonenumbers.Parse(raw, region)
	if err != nil {
		return "", err
	}
	if !phonenumbers.IsValidNumber(num) {
		return "", fmt.Errorf("not a valid number for region %s", region)
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}

// sniffDelimiter picks the most frequent of , ; and tab on the header line.
func sniffDelimiter(data []byte) rune {
	line := data
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		line = data[:i]
	}
	best, bestCount := ',', 0
	for _, d := range []rune{',', ';', '\t'} {
		if n := bytes.Count(line, []byte(string(d))); n > bestCount {
			best, bestCount = d, n
		}
	}
	return best
}

func canonical(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	return strings.NewReplacer(" ", "", "_", "", "-", "", ".", "").Replace(h)
}

func field(rec []string, idx int) string {
	if idx < 0 || idx >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[idx])
}

func blank(rec []string) bool {
	for _, f := range rec {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
