package urlgen

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/JakeFAU/urlcrawl/internal/crawler"
)

// DefaultMaxExpansion caps the number of URLs a single descriptor may produce.
const DefaultMaxExpansion = 1_000_000

// Expander turns descriptors into targets.
type Expander struct {
	MaxExpansion int
}

// Expand expands a descriptor with the default expansion cap.
func Expand(d Descriptor) ([]crawler.Target, error) {
	return Expander{MaxExpansion: DefaultMaxExpansion}.Expand(d)
}

// Expand returns the ordered targets for d, or a *crawler.ConfigError. It
// never returns a partial expansion.
func (e Expander) Expand(d Descriptor) ([]crawler.Target, error) {
	if strings.TrimSpace(d.Name) == "" {
		return nil, &crawler.ConfigError{Field: "name", Reason: "descriptor name is required"}
	}
	scraper, err := crawler.ParseScraperKind(d.Scraper)
	if err != nil {
		return nil, e.fail(d, "scraper", err)
	}
	urls, err := e.urls(d)
	if err != nil {
		return nil, err
	}
	targets := make([]crawler.Target, 0, len(urls))
	for _, u := range urls {
		targets = append(targets, crawler.Target{
			URL:          u,
			Group:        d.Name,
			Scraper:      scraper,
			Headers:      d.Headers,
			ItemSelector: d.ItemSelector,
		})
	}
	return targets, nil
}

func (e Expander) limit() int {
	if e.MaxExpansion <= 0 {
		return DefaultMaxExpansion
	}
	return e.MaxExpansion
}

func (e Expander) urls(d Descriptor) ([]string, error) {
	kind := d.EffectiveKind()
	if kind == "" {
		return nil, e.fail(d, "type", fmt.Errorf("type is required"))
	}
	if _, ok := knownKinds[kind]; !ok {
		return nil, e.fail(d, "type", fmt.Errorf("unknown descriptor type %q", kind))
	}
	if kind != KindIncremental && strings.TrimSpace(d.URL) == "" {
		return nil, e.fail(d, "url", fmt.Errorf("url is required"))
	}
	switch kind {
	case KindStatic:
		return []string{d.URL}, nil
	case KindDated:
		block := d.dateBlock()
		if block.Param == "" {
			return nil, e.fail(d, "date_param", fmt.Errorf("date_param is required"))
		}
		return e.withDates(d, "start_date", []string{d.URL}, block)
	case KindRunner:
		return e.withRunner(d, "start", []string{d.URL}, d.runnerBlock())
	case KindParameterized:
		return e.parameterized(d)
	case KindComplex:
		if d.Date == nil || d.Runner == nil {
			return nil, e.fail(d, "date", fmt.Errorf("complex descriptors need both a date and a runner block"))
		}
		return e.composite(d)
	case KindAuthenticated:
		if d.Date == nil && d.Runner == nil {
			return nil, e.fail(d, "runner", fmt.Errorf("authenticated descriptors need a date or runner block"))
		}
		return e.composite(d)
	case KindTemplated:
		return e.templated(d)
	case KindIncremental:
		return e.incremental(d)
	default:
		return nil, e.fail(d, "type", fmt.Errorf("unknown descriptor type %q", kind))
	}
}

var knownKinds = map[Kind]struct{}{
	KindStatic: {}, KindDated: {}, KindRunner: {}, KindParameterized: {},
	KindComplex: {}, KindTemplated: {}, KindIncremental: {}, KindAuthenticated: {},
}

func (e Expander) fail(d Descriptor, field string, err error) error {
	return &crawler.ConfigError{Descriptor: d.Name, Field: field, Reason: err.Error()}
}

func (e Expander) withDates(d Descriptor, field string, bases []string, block DateBlock) ([]string, error) {
	dates, err := dateRange(block, e.limit())
	if err != nil {
		return nil, e.fail(d, field, err)
	}
	if err := e.checkSize(d, len(bases), len(dates)); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(bases)*len(dates))
	for _, base := range bases {
		for _, date := range dates {
			out = append(out, bindParam(base, block.Param, date, ""))
		}
	}
	return out, nil
}

func (e Expander) withRunner(d Descriptor, field string, bases []string, block RunnerBlock) ([]string, error) {
	if block.Start == nil {
		return nil, e.fail(d, field, fmt.Errorf("start is required"))
	}
	if block.End == nil {
		return nil, e.fail(d, "end", fmt.Errorf("end is required"))
	}
	step := 1
	if block.Step != nil {
		step = *block.Step
	}
	values, err := intRange(*block.Start, *block.End, step, e.limit())
	if err != nil {
		return nil, e.fail(d, "step", err)
	}
	if err := e.checkSize(d, len(bases), len(values)); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(bases)*len(values))
	for _, base := range bases {
		for _, v := range values {
			out = append(out, runnerURL(base, block, v))
		}
	}
	return out, nil
}

func (e Expander) composite(d Descriptor) ([]string, error) {
	urls := []string{d.URL}
	var err error
	if d.Date != nil {
		if d.Date.Param == "" {
			return nil, e.fail(d, "date.param", fmt.Errorf("param is required"))
		}
		if urls, err = e.withDates(d, "date", urls, *d.Date); err != nil {
			return nil, err
		}
	}
	if d.Runner != nil {
		if urls, err = e.withRunner(d, "runner", urls, *d.Runner); err != nil {
			return nil, err
		}
	}
	if len(d.Fixed) == 0 {
		return urls, nil
	}
	for i, u := range urls {
		for _, kv := range d.Fixed {
			u = bindParam(u, kv.Key, kv.Value, "")
		}
		urls[i] = u
	}
	return urls, nil
}

func (e Expander) parameterized(d Descriptor) ([]string, error) {
	if len(d.Parameters) == 0 {
		return nil, e.fail(d, "parameters", fmt.Errorf("at least one parameter is required"))
	}
	lists := make([][]string, 0, len(d.Parameters))
	for _, p := range d.Parameters {
		if p.Name == "" {
			return nil, e.fail(d, "parameters", fmt.Errorf("parameter name is required"))
		}
		if len(p.Values) == 0 {
			return nil, e.fail(d, "parameters."+p.Name, fmt.Errorf("values are required"))
		}
		lists = append(lists, p.Values)
	}
	if err := e.checkSize(d, productSize(lists)); err != nil {
		return nil, err
	}
	names := make([]string, len(d.Parameters))
	for i, p := range d.Parameters {
		names[i] = p.Name
	}
	combos := product(lists)
	out := make([]string, 0, len(combos))
	for _, combo := range combos {
		out = append(out, bindAll(d.URL, names, combo))
	}
	return out, nil
}

// bindAll substitutes every $name placeholder, longest names first so $page
// wins over $p, then appends the remaining names as query parameters in
// declaration order.
func bindAll(raw string, names, values []string) string {
	order := make([]int, len(names))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return len(names[order[a]]) > len(names[order[b]]) })
	bound := make([]bool, len(names))
	for _, idx := range order {
		placeholder := "$" + names[idx]
		if strings.Contains(raw, placeholder) {
			raw = strings.ReplaceAll(raw, placeholder, values[idx])
			bound[idx] = true
		}
	}
	for i, name := range names {
		if !bound[i] {
			raw = bindParam(raw, name, values[i], "")
		}
	}
	return raw
}

func (e Expander) templated(d Descriptor) ([]string, error) {
	if len(d.TemplateVars) == 0 {
		return nil, e.fail(d, "template_vars", fmt.Errorf("at least one template variable is required"))
	}
	lists := make([][]string, 0, len(d.TemplateVars))
	for _, v := range d.TemplateVars {
		values, err := e.templateValues(v)
		if err != nil {
			return nil, e.fail(d, "template_vars."+v.Name, err)
		}
		lists = append(lists, values)
	}
	if err := e.checkSize(d, productSize(lists)); err != nil {
		return nil, err
	}
	order := make([]int, len(d.TemplateVars))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return len(d.TemplateVars[order[a]].Name) > len(d.TemplateVars[order[b]].Name)
	})
	combos := product(lists)
	out := make([]string, 0, len(combos))
	pairs := make([]string, 0, 2*len(order))
	for _, combo := range combos {
		pairs = pairs[:0]
		for _, idx := range order {
			pairs = append(pairs, "$"+d.TemplateVars[idx].Name, combo[idx])
		}
		out = append(out, strings.NewReplacer(pairs...).Replace(d.URL))
	}
	return out, nil
}

func (e Expander) templateValues(v TemplateVar) ([]string, error) {
	if v.Name == "" {
		return nil, fmt.Errorf("variable name is required")
	}
	switch mode := v.EffectiveMode(); mode {
	case ModeOptions:
		if len(v.Values) == 0 {
			return nil, fmt.Errorf("values are required")
		}
		return v.Values, nil
	case ModeIncrement:
		start, err := parseBound(v.Start, "start")
		if err != nil {
			return nil, err
		}
		end, err := parseBound(v.End, "end")
		if err != nil {
			return nil, err
		}
		step := 1
		if v.Step != nil {
			step = *v.Step
		}
		ints, err := intRange(start, end, step, e.limit())
		if err != nil {
			return nil, err
		}
		values := make([]string, len(ints))
		for i, n := range ints {
			values[i] = fmt.Sprint(n)
		}
		return values, nil
	case ModeDate:
		return dateRange(DateBlock{Format: v.Format, Start: v.Start, End: v.End}, e.limit())
	default:
		return nil, fmt.Errorf("unknown variable type %q", mode)
	}
}

func (e Expander) incremental(d Descriptor) ([]string, error) {
	base := d.Base
	if base == "" {
		base = d.URL
	}
	if strings.TrimSpace(base) == "" {
		return nil, e.fail(d, "base", fmt.Errorf("base is required"))
	}
	if d.Start == nil {
		return nil, e.fail(d, "start", fmt.Errorf("start is required"))
	}
	if d.End == nil {
		return nil, e.fail(d, "end", fmt.Errorf("end is required"))
	}
	step := 1
	if d.Step != nil {
		step = *d.Step
	}
	values, err := intRange(*d.Start, *d.End, step, e.limit())
	if err != nil {
		return nil, e.fail(d, "step", err)
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		out = append(out, base+d.Prefix+zeroPad(v, d.Width)+d.Suffix)
	}
	return out, nil
}

func (e Expander) checkSize(d Descriptor, factors ...int) error {
	size := 1
	for _, f := range factors {
		if f == 0 {
			return nil
		}
		if size > e.limit()/f {
			return e.fail(d, "", fmt.Errorf("expansion exceeds the limit of %d urls", e.limit()))
		}
		size *= f
	}
	if size > e.limit() {
		return e.fail(d, "", fmt.Errorf("expansion exceeds the limit of %d urls", e.limit()))
	}
	return nil
}

// bindParam substitutes $name when the template carries it and otherwise
// appends name=value as a query parameter.
func bindParam(raw, name, value, sep string) string {
	placeholder := "$" + name
	if name != "" && strings.Contains(raw, placeholder) {
		return strings.ReplaceAll(raw, placeholder, value)
	}
	if sep == "" {
		sep = querySeparator(raw)
	}
	return raw + sep + url.QueryEscape(name) + "=" + url.QueryEscape(value)
}

func runnerURL(raw string, block RunnerBlock, v int) string {
	value := block.Prefix + fmt.Sprint(v)
	if block.Param == "" {
		return raw + block.Separator + value
	}
	return bindParam(raw, block.Param, value, block.Separator)
}

func querySeparator(raw string) string {
	switch {
	case !strings.Contains(raw, "?"):
		return "?"
	case strings.HasSuffix(raw, "?"), strings.HasSuffix(raw, "&"):
		return ""
	default:
		return "&"
	}
}
