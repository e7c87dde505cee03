package layers

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var tokenPattern = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_]+)\s*\}\}`)

var (
	waterYears = map[string]string{
		"baseline": "2010",
		"2020":     "2020",
		"2030":     "2030",
		"2040":     "2040",
		"2050":     "2050",
	}
	foodYears = map[string]string{
		"baseline": "2005",
		"2020":     "2020",
		"2030":     "2030",
		"2040":     "2040",
		"2050":     "2050",
	}
	waterColumnYears = map[string]string{
		"baseline": "bs",
		"2020":     "20",
		"2030":     "30",
		"2040":     "40",
		"2050":     "50",
	}
)

// converter resolves template placeholders against dashboard filters. Food
// layers and water-style layers disagree on the baseline year and on how the
// crop filter narrows a query.
type converter struct {
	food bool
}

func converterFor(category string) converter {
	return converter{food: category == CategoryFood}
}

// Convert fills the {{key}} placeholders of tpl from filters. Keys listed in
// params are replaced by a single value, keys listed in sqlParams by a WHERE
// clause over the non-empty key params. Unknown placeholders are left alone.
func Convert(tpl, category string, filters Filters, params []Param, sqlParams []SQLParam) string {
	return converterFor(category).convert(tpl, filters, params, sqlParams)
}

func (c converter) convert(tpl string, filters Filters, params []Param, sqlParams []SQLParam) string {
	if tpl == "" {
		return ""
	}
	values := make(map[string]string, len(params)+len(sqlParams))
	for _, p := range params {
		values[p.Key] = c.param(p.Key, filters)
	}
	for _, p := range sqlParams {
		values[p.Key] = c.where(p.KeyParams, filters)
	}
	return substitute(tpl, values)
}

// param resolves a single-value placeholder. Derived keys come from closed
// lookup tables; every other value is escaped for a quoted SQL literal.
func (c converter) param(key string, filters Filters) string {
	switch {
	case key == "water_column" && !c.food:
		return waterColumn(filters["year"])
	case key == "year" && c.food:
		return foodYears[filters["year"]]
	}
	return quoteSQL(filters[key])
}

func (c converter) derived(key string) bool {
	return (key == "water_column" && !c.food) || (key == "year" && c.food)
}

func (c converter) keyParam(key string, filters Filters) string {
	if c.food {
		return filters[key]
	}
	switch key {
	case "year":
		return waterYears[filters["year"]]
	case "crop":
		if crop := filters["crop"]; crop != "all" {
			return crop
		}
		return ""
	}
	return filters[key]
}

func (c converter) where(keyParams []Param, filters Filters) string {
	conds := make([]string, 0, len(keyParams))
	for _, p := range keyParams {
		v := c.keyParam(p.Key, filters)
		if v == "" {
			continue
		}
		conds = append(conds, fmt.Sprintf("%s = '%s'", p.Key, quoteSQL(v)))
	}
	if len(conds) == 0 {
		return ""
	}
	return "WHERE " + strings.Join(conds, " AND ")
}

// waterColumn derives the water risk column name for a year, e.g. ws4028tr.
func waterColumn(year string) string {
	scenario := "28"
	if year == "baseline" {
		scenario = "00"
	}
	return "ws" + waterColumnYears[year] + scenario + "tr"
}

func quoteSQL(v string) string {
	return strings.ReplaceAll(v, "'", "''")
}

func substitute(tpl string, values map[string]string) string {
	return tokenPattern.ReplaceAllStringFunc(tpl, func(tok string) string {
		key := tokenPattern.FindStringSubmatch(tok)[1]
		if v, ok := values[key]; ok {
			return v
		}
		return tok
	})
}

// tokens lists the distinct placeholder keys in tpl, sorted.
func tokens(tpl string) []string {
	seen := map[string]struct{}{}
	for _, m := range tokenPattern.FindAllStringSubmatch(tpl, -1) {
		seen[m[1]] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func checkTokens(tpl string, allowed map[string]struct{}) error {
	var unknown []string
	for _, tok := range tokens(tpl) {
		if _, ok := allowed[tok]; !ok {
			unknown = append(unknown, tok)
		}
	}
	if len(unknown) > 0 {
		return fmt.Errorf("undeclared placeholders %s", strings.Join(unknown, ", "))
	}
	return nil
}

// checkQuotedParams requires every free-valued param placeholder in a SQL
// template to sit inside a single-quoted literal, e.g. '{{crop}}'.
func checkQuotedParams(tpl string, params []Param, c converter) error {
	free := make(map[string]struct{}, len(params))
	for _, p := range params {
		if !c.derived(p.Key) {
			free[p.Key] = struct{}{}
		}
	}

	var bare []string
	for _, m := range tokenPattern.FindAllStringSubmatchIndex(tpl, -1) {
		key := tpl[m[2]:m[3]]
		if _, ok := free[key]; !ok {
			continue
		}
		if m[0] == 0 || tpl[m[0]-1] != '\'' || m[1] >= len(tpl) || tpl[m[1]] != '\'' {
			bare = append(bare, key)
		}
	}
	if len(bare) > 0 {
		return fmt.Errorf("params must be quoted: %s", strings.Join(bare, ", "))
	}
	return nil
}
