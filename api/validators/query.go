package validators

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/armory-ledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/armory-ledger/pkg/errors"
)

// DateLayout is the calendar-date format accepted for startDate / endDate.
const DateLayout = "2006-01-02"

const maxBaseLength = 128

func ParseQueryInt(r *http.Request, key string, defaultVal, min, max int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return defaultVal, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "query parameter must be numeric").WithDetails(map[string]any{"field": key})
	}
	if value < min || value > max {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "query parameter out of range").WithDetails(map[string]any{"field": key, "min": min, "max": max})
	}
	return value, nil
}

// ParseQueryBase reads a base name query parameter.
func ParseQueryBase(r *http.Request, key string) string {
	return SanitizeString(r.URL.Query().Get(key), maxBaseLength)
}

// ParseQueryUUID reads an optional uuid query parameter; absent yields uuid.Nil.
func ParseQueryUUID(r *http.Request, key string) (uuid.UUID, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return uuid.Nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "query parameter must be a uuid").WithDetails(map[string]any{"field": key})
	}
	return id, nil
}

// ParseQueryAssetType reads an optional asset type filter.
func ParseQueryAssetType(r *http.Request, key string) (enums.AssetType, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return "", nil
	}
	assetType, err := enums.ParseAssetType(raw)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unrecognized asset type").WithDetails(map[string]any{"field": key})
	}
	return assetType, nil
}

// ParseQueryDate reads an optional YYYY-MM-DD parameter as midnight UTC.
func ParseQueryDate(r *http.Request, key string) (*time.Time, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return nil, nil
	}
	day, err := time.ParseInLocation(DateLayout, raw, time.UTC)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "date must be YYYY-MM-DD").WithDetails(map[string]any{"field": key})
	}
	return &day, nil
}

// ParseDateRange reads startDate and endDate. The end date is inclusive, so the
// returned end is the last instant of that day.
func ParseDateRange(r *http.Request) (start, end *time.Time, err error) {
	start, err = ParseQueryDate(r, "startDate")
	if err != nil {
		return nil, nil, err
	}
	end, err = ParseQueryDate(r, "endDate")
	if err != nil {
		return nil, nil, err
	}
	if end != nil {
		last := EndOfDay(*end)
		end = &last
	}
	if start != nil && end != nil && end.Before(*start) {
		return nil, nil, pkgerrors.New(pkgerrors.CodeValidation, "endDate must not precede startDate")
	}
	return start, end, nil
}

// EndOfDay returns the last representable instant of day at microsecond
// precision, matching stored timestamps.
func EndOfDay(day time.Time) time.Time {
	return day.AddDate(0, 0, 1).Add(-time.Microsecond)
}
