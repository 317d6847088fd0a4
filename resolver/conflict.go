package resolver

import (
	"fmt"
	"math"
	"sort"
	"time"

	"cryptolens/models"
)

// CategoricalValue is one provider's answer for a non-numeric field
// together with the upstream timestamp used for latest-preferred
// resolution.
type CategoricalValue struct {
	Value interface{}
	AsOf  time.Time
}

// ResolveNumericConflict decides the final value for a numeric field
// supplied by two or more providers within one resolution pass.
//
// diff_percent is (max-min)/|reference|*100 where the reference is the
// primary provider's value when it supplied one, otherwise the smallest
// absolute value supplied. Within the threshold the values are averaged;
// beyond it the primary wins and a ConflictRecord is always emitted. The
// average branch emits a record only when alwaysRecord is set.
func ResolveNumericConflict(field string, values map[string]float64, primary string, thresholdPercent float64, alwaysRecord bool) (float64, *models.ConflictRecord) {
	if len(values) == 0 {
		return 0, nil
	}
	if len(values) == 1 {
		for _, v := range values {
			return v, nil
		}
	}

	minVal := math.Inf(1)
	maxVal := math.Inf(-1)
	minAbs := math.Inf(1)
	for _, v := range values {
		minVal = math.Min(minVal, v)
		maxVal = math.Max(maxVal, v)
		minAbs = math.Min(minAbs, math.Abs(v))
	}

	reference := minAbs
	if pv, ok := values[primary]; ok && pv != 0 {
		reference = math.Abs(pv)
	}

	if maxVal == minVal {
		// Full agreement; averaging is a no-op and nothing is recorded.
		return maxVal, nil
	}

	var diffPercent float64
	if reference == 0 {
		// Disagreement around zero cannot be expressed relatively; treat
		// it as exceeding any threshold.
		diffPercent = math.MaxFloat64
	} else {
		diffPercent = (maxVal - minVal) / reference * 100
	}

	rawValues := make(map[string]interface{}, len(values))
	for name, v := range values {
		rawValues[name] = v
	}

	if diffPercent <= thresholdPercent {
		var sum float64
		for _, v := range values {
			sum += v
		}
		final := sum / float64(len(values))
		if !alwaysRecord {
			return final, nil
		}
		return final, &models.ConflictRecord{
			Field:       field,
			Values:      rawValues,
			DiffPercent: diffPercent,
			Resolution:  models.ResolutionAverage,
			FinalValue:  final,
		}
	}

	final, ok := values[primary]
	if !ok {
		final = reference
	}
	return final, &models.ConflictRecord{
		Field:       field,
		Values:      rawValues,
		DiffPercent: diffPercent,
		Resolution:  models.ResolutionPrimaryPreferred,
		FinalValue:  final,
	}
}

// ResolveCategoricalConflict decides the final value for a non-numeric
// field. When providers disagree at all, the value with the most recent
// upstream timestamp wins and a ConflictRecord is emitted.
func ResolveCategoricalConflict(field string, values map[string]CategoricalValue) (interface{}, *models.ConflictRecord) {
	if len(values) == 0 {
		return nil, nil
	}

	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	first := values[names[0]]
	agree := true
	for _, name := range names[1:] {
		if fmt.Sprint(values[name].Value) != fmt.Sprint(first.Value) {
			agree = false
			break
		}
	}
	if agree {
		return first.Value, nil
	}

	latestName := names[0]
	for _, name := range names[1:] {
		if values[name].AsOf.After(values[latestName].AsOf) {
			latestName = name
		}
	}

	rawValues := make(map[string]interface{}, len(values))
	for name, v := range values {
		rawValues[name] = v.Value
	}
	final := values[latestName].Value
	return final, &models.ConflictRecord{
		Field:      field,
		Values:     rawValues,
		Resolution: models.ResolutionLatestPreferred,
		FinalValue: final,
	}
}
