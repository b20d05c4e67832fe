package imaging

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/rwcarlsen/goexif/exif"
	"github.com/rwcarlsen/goexif/tiff"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
)

// EXIF returns every readable tag of the file at path as display text.
// Files without an EXIF block yield an empty map.
func (c *Codec) EXIF(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	defer f.Close()

	tags := make(map[string]string)
	x, err := exif.Decode(f)
	if x == nil {
		// no EXIF segment, or nothing usable in it
		return tags, nil
	}
	if err != nil && exif.IsCriticalError(err) {
		return tags, nil
	}

	if err := x.Walk(tagCollector(tags)); err != nil {
		return nil, fmt.Errorf("walk exif: %w", err)
	}
	return tags, nil
}

type tagCollector map[string]string

func (t tagCollector) Walk(name exif.FieldName, tag *tiff.Tag) error {
	if tag == nil {
		return nil
	}
	t[string(name)] = tagText(tag)
	return nil
}

func tagText(tag *tiff.Tag) string {
	switch tag.Format() {
	case tiff.StringVal:
		if s, err := tag.StringVal(); err == nil {
			return DisplayText([]byte(s))
		}
		return ""
	case tiff.UndefVal:
		return DisplayText(tag.Val)
	case tiff.OtherVal:
		return ""
	}

	vals := make([]string, 0, tag.Count)
	for i := 0; i < int(tag.Count); i++ {
		v, err := numberText(tag, i)
		if err != nil {
			return ""
		}
		vals = append(vals, v)
	}
	return strings.Join(vals, ", ")
}

// numberText renders the i'th value of a numeric tag. Rationals stay as
// num/den so the stored value round-trips exactly.
func numberText(tag *tiff.Tag, i int) (string, error) {
	switch tag.Format() {
	case tiff.RatVal:
		num, den, err := tag.Rat2(i)
		if err != nil {
			return "", err
		}
		return strconv.FormatInt(num, 10) + "/" + strconv.FormatInt(den, 10), nil
	case tiff.FloatVal:
		f, err := tag.Float(i)
		if err != nil {
			return "", err
		}
		return strconv.FormatFloat(f, 'g', -1, 64), nil
	default:
		n, err := tag.Int64(i)
		if err != nil {
			return "", err
		}
		return strconv.FormatInt(n, 10), nil
	}
}

// dropUndecodable is built per call; chained transformers keep state.
func dropUndecodable() transform.Transformer {
	return transform.Chain(
		runes.ReplaceIllFormed(),
		runes.Remove(runes.Predicate(func(r rune) bool {
			return r == utf8.RuneError || r == 0
		})),
	)
}

// DisplayText decodes raw tag bytes as UTF-8, dropping anything that does
// not decode.
func DisplayText(raw []byte) string {
	s, _, err := transform.String(dropUndecodable(), string(raw))
	if err != nil {
		return strings.ToValidUTF8(string(raw), "")
	}
	return strings.TrimSpace(s)
}
