package leaderboard

import (
	"encoding/json"
	"math"
	"reflect"
	"sort"
	"strconv"
	"time"

	"github.com/Seednode/minigames/docstore"
)

// MaxEntries caps a leaderboard view.
const MaxEntries = 50

const (
	DefaultPlayerName = "Anonymous"
	AnonymousUserID   = "anon"
)

// Stored field names.
const (
	FieldPlayerName = "pseudo"
	FieldScore      = "score"
	FieldUserID     = "userId"
	FieldTimestamp  = "timestamp"
)

func reserved(key string) bool {
	switch key {
	case FieldPlayerName, FieldScore, FieldUserID, FieldTimestamp:
		return true
	}
	return false
}

// Entry is one submitted score. Entries are never modified after writing.
type Entry struct {
	ID         string         `json:"id"`
	PlayerName string         `json:"name"`
	Score      float64        `json:"score"`
	UserID     string         `json:"userId"`
	CreatedAt  time.Time      `json:"createdAt"`
	Extra      map[string]any `json:"extra,omitempty"`
}

func entryFromDocument(doc docstore.Document) Entry {
	e := Entry{ID: doc.ID}

	for k, v := range doc.Fields {
		switch k {
		case FieldPlayerName:
			e.PlayerName, _ = v.(string)
		case FieldScore:
			e.Score = toFloat(v)
		case FieldUserID:
			e.UserID, _ = v.(string)
		case FieldTimestamp:
			e.CreatedAt = toTime(v)
		default:
			if e.Extra == nil {
				e.Extra = make(map[string]any)
			}
			e.Extra[k] = v
		}
	}

	return e
}

func toFloat(v any) float64 {
	var f float64
	switch n := v.(type) {
	case json.Number:
		f, _ = n.Float64()
	case string:
		f, _ = strconv.ParseFloat(n, 64)
	default:
		rv := reflect.ValueOf(v)
		switch rv.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			f = float64(rv.Int())
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
			f = float64(rv.Uint())
		case reflect.Float32, reflect.Float64:
			f = rv.Float()
		}
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

func toTime(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t.UTC()
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err == nil {
			return parsed.UTC()
		}
	}
	return time.Time{}
}

// rank orders entries best first and keeps the top MaxEntries. Equal scores
// go to the earlier entry; entries still waiting for a server timestamp come
// after timestamped ones; the ID settles anything left.
func rank(entries []Entry) []Entry {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			switch {
			case a.CreatedAt.IsZero():
				return false
			case b.CreatedAt.IsZero():
				return true
			}
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})

	if len(entries) > MaxEntries {
		entries = entries[:MaxEntries]
	}
	return entries
}
