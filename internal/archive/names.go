package archive

import (
	"strings"
	"time"

	"pkt.systems/factorioctl/schema"
)

// nameTimeLayout is the timestamp prefix of archive filenames.
const nameTimeLayout = "2006_01_02_15_04_05"

// EncodeName builds an archive filename of the form timestamp_label_author.
func EncodeName(ts time.Time, label schema.SaveLabel, author schema.Username) string {
	return ts.Format(nameTimeLayout) + "_" + string(label) + "_" + string(author)
}

// DecodeName splits an archive filename back into its parts. Decoding splits
// on underscore: the first six tokens are the timestamp, the last is the
// author and everything between is the label. Filenames that don't fit the
// scheme return ok=false.
func DecodeName(name string) (label schema.SaveLabel, author schema.Username, ts time.Time, ok bool) {
	parts := strings.Split(name, "_")
	if len(parts) < 8 {
		return "", "", time.Time{}, false
	}
	ts, err := time.ParseInLocation(nameTimeLayout, strings.Join(parts[:6], "_"), time.Local)
	if err != nil {
		return "", "", time.Time{}, false
	}
	label = schema.SaveLabel(strings.Join(parts[6:len(parts)-1], "_"))
	author = schema.Username(parts[len(parts)-1])
	if label == "" || author == "" {
		return "", "", time.Time{}, false
	}
	return label, author, ts, true
}
