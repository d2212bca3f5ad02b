// Package export writes filtered search results as CSV reports.
package export

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/anatolykoptev/go_tube/internal/engine"
)

// utf8BOM makes Excel detect UTF-8, so non-ASCII titles render correctly.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

var csvHeader = []string{"title", "url", "channel", "views", "subscribers"}

// Filename builds the report name from the keyword and a timestamp.
// Characters unsafe in filenames become underscores.
func Filename(keyword string, now time.Time) string {
	return fmt.Sprintf("youtube_results_%s_%s.csv", sanitizeKeyword(keyword), now.Format("20060102_150405"))
}

func sanitizeKeyword(keyword string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			return r
		case r == ' ' || r == '_' || r == '-':
			return r
		default:
			return '_'
		}
	}, keyword)
}

// WriteCSV writes results to path, one row per filtered video.
func WriteCSV(path string, results []engine.FilteredResult) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	if _, err := f.Write(utf8BOM); err != nil {
		return err
	}

	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		return err
	}
	for _, r := range results {
		record := []string{
			r.Video.Title,
			r.Video.URL,
			r.Video.ChannelTitle,
			strconv.FormatInt(r.Video.ViewCount, 10),
			strconv.FormatInt(r.Channel.Subscribers, 10),
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}
