package reports

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/queue-status/backend/internal/reconcile"
)

// MaxPageSize caps the page size a client may ask for.
const MaxPageSize = 500

// FilterParams is the wire form of a dashboard filter. It is shared by the
// dashboard query string, CSV downloads and export jobs.
type FilterParams struct {
	Mode    string `json:"mode,omitempty"`
	Product string `json:"product,omitempty"`
	Stage   string `json:"stage,omitempty"`
	KPI     string `json:"kpi,omitempty"`
	Search  string `json:"search,omitempty"`
}

// FilterParamsFromQuery reads the filter fields of a query string.
func FilterParamsFromQuery(v url.Values) FilterParams {
	return FilterParams{
		Mode:    v.Get("mode"),
		Product: v.Get("product"),
		Stage:   v.Get("stage"),
		KPI:     v.Get("kpi"),
		Search:  v.Get("search"),
	}
}

// Filter converts the params; only a malformed KPI is an error.
func (p FilterParams) Filter() (reconcile.Filter, error) {
	kpi, err := reconcile.ParseKPI(p.KPI)
	if err != nil {
		return reconcile.Filter{}, err
	}
	return reconcile.Filter{
		IntegrationMode: p.Mode,
		ProductName:     p.Product,
		TokenStage:      p.Stage,
		KPI:             kpi,
		Search:          strings.TrimSpace(p.Search),
	}, nil
}

// ParseViewRequest reads filter and paging from a query string.
func ParseViewRequest(v url.Values, defaultPageSize int) (reconcile.ViewRequest, error) {
	f, err := FilterParamsFromQuery(v).Filter()
	if err != nil {
		return reconcile.ViewRequest{}, err
	}
	req := reconcile.ViewRequest{Filter: f, Page: 1, PageSize: defaultPageSize}
	if s := v.Get("page"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return reconcile.ViewRequest{}, fmt.Errorf("invalid page %q", s)
		}
		req.Page = n
	}
	if s := v.Get("pageSize"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			return reconcile.ViewRequest{}, fmt.Errorf("invalid pageSize %q", s)
		}
		req.PageSize = n
	}
	if req.PageSize > MaxPageSize {
		req.PageSize = MaxPageSize
	}
	return req, nil
}
