package config

import "time"

const (
	// DefaultBatchSize is the number of rows per transformation unit.
	DefaultBatchSize = 1000
	// DefaultMaxRows is the hard cap on rows consumed from the source.
	DefaultMaxRows = 150000
	// DefaultJob labels runs that do not name themselves.
	DefaultJob = "supplyetl"
)

// DataCo supply-chain column names as they appear in the source header.
const (
	ColOrderDate    = "order date (DateOrders)"
	ColShippingDate = "shipping date (DateOrders)"
)

// DefaultKeep is the ordered kept-column list for the DataCo dataset.
var DefaultKeep = []string{
	"Days for shipping (real)",
	"Days for shipment (scheduled)",
	"Benefit per order",
	"Sales per customer",
	"Delivery Status",
	"Late_delivery_risk",
	"Latitude",
	"Longitude",
	"Order City",
	ColOrderDate,
	"Order Item Discount Rate",
	"Sales",
	"Order Item Total",
	"Order Profit Per Order",
	"Order Status",
	"Product Name",
	"Product Status",
	ColShippingDate,
	"Product Price",
}

// DefaultEncode lists the categorical columns replaced by integer codes.
var DefaultEncode = []string{
	"Product Name",
	"Order City",
	"Delivery Status",
	"Order Status",
}

// DefaultDateLayouts covers the DataCo "1/31/2018 22:56" form plus ISO-8601.
var DefaultDateLayouts = []string{
	"1/2/2006 15:04",
	"1/2/2006 15:04:05",
	"1/2/2006",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04:05",
	time.RFC3339Nano,
	"2006-01-02",
}

func defaultDates() map[string]string {
	return map[string]string{
		ColOrderDate:    "order_date",
		ColShippingDate: "shipping_date",
	}
}

func defaultTypes() map[string]string {
	return map[string]string{
		"Days for shipping (real)":      "int",
		"Days for shipment (scheduled)": "int",
		"Benefit per order":             "float",
		"Sales per customer":            "float",
		"Late_delivery_risk":            "int",
		"Latitude":                      "float",
		"Longitude":                     "float",
		"Order Item Discount Rate":      "float",
		"Sales":                         "float",
		"Order Item Total":              "float",
		"Order Profit Per Order":        "float",
		"Product Status":                "int",
		"Product Price":                 "float",
	}
}

// Default returns a complete pipeline for the DataCo dataset with no paths
// set.
func Default() Pipeline {
	return Pipeline{
		Job:    DefaultJob,
		Source: Source{Kind: "file"},
		Parser: Parser{Kind: "csv", Options: Options{"encoding": "latin1"}},
		Columns: Columns{
			Keep:        append([]string(nil), DefaultKeep...),
			Encode:      append([]string(nil), DefaultEncode...),
			Dates:       defaultDates(),
			DateLayouts: append([]string(nil), DefaultDateLayouts...),
			Types:       defaultTypes(),
		},
		Storage: Storage{Kind: "csv"},
		Runtime: Runtime{BatchSize: DefaultBatchSize, MaxRows: DefaultMaxRows},
	}
}

// ApplyDefaults fills zero-valued fields of p from Default(). Nil slices and
// maps are replaced; explicitly empty ones are kept so a pipeline file can
// opt out of, e.g., date normalization with "dates": {}.
func ApplyDefaults(p *Pipeline) {
	d := Default()
	if p.Job == "" {
		p.Job = d.Job
	}
	if p.Source.Kind == "" {
		p.Source.Kind = d.Source.Kind
	}
	if p.Parser.Kind == "" {
		p.Parser.Kind = d.Parser.Kind
	}
	if p.Parser.Options == nil {
		p.Parser.Options = Options{}
	}
	if _, ok := p.Parser.Options["encoding"]; !ok {
		p.Parser.Options["encoding"] = d.Parser.Options["encoding"]
	}
	if p.Columns.Keep == nil {
		p.Columns.Keep = d.Columns.Keep
	}
	if p.Columns.Encode == nil {
		p.Columns.Encode = d.Columns.Encode
	}
	if p.Columns.Dates == nil {
		p.Columns.Dates = d.Columns.Dates
	}
	if p.Columns.DateLayouts == nil {
		p.Columns.DateLayouts = d.Columns.DateLayouts
	}
	if p.Columns.Types == nil {
		p.Columns.Types = d.Columns.Types
	}
	if p.Storage.Kind == "" {
		p.Storage.Kind = d.Storage.Kind
	}
	if p.Runtime.BatchSize == 0 {
		p.Runtime.BatchSize = d.Runtime.BatchSize
	}
	if p.Runtime.MaxRows == 0 {
		p.Runtime.MaxRows = d.Runtime.MaxRows
	}
}
