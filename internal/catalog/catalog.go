// Package catalog loads the product catalog that drives session openers and
// the evaluation rubric.
package catalog

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
)

// DetailField is one entry of a product's 产品说明 block. Items is set when the
// value was a list.
type DetailField struct {
	Key    string
	Value  string
	Items  []string
	IsList bool
}

// Details keeps 产品说明 entries in file order.
type Details []DetailField

// Price is one row of the 价目表.
type Price struct {
	Spec   string
	Retail string
}

type Product struct {
	Name           string
	InitialSymptom string
	Details        Details
	Prices         []Price
}

// Opener pairs a product with the symptom template a session starts from.
type Opener struct {
	Product string
	Symptom string
}

// Catalog is read-only after Load and safe for concurrent use.
type Catalog struct {
	products map[string]Product
	names    []string
}

type rawProduct struct {
	InitialSymptom string  `json:"initial_symptom"`
	Details        Details `json:"产品说明"`
	Prices         []Price `json:"价目表"`
}

type rawCatalog struct {
	Products map[string]rawProduct `json:"products"`
}

// Load reads a product_config.json file.
func Load(path string) (*Catalog, error) {
	f, err := os.Open(path) // #nosec G304 -- catalog path comes from config
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse decodes a catalog document.
func Parse(r io.Reader) (*Catalog, error) {
	var raw rawCatalog
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if len(raw.Products) == 0 {
		return nil, errors.New("catalog has no products")
	}

	c := &Catalog{products: make(map[string]Product, len(raw.Products))}
	for name, p := range raw.Products {
		c.products[name] = Product{
			Name:           name,
			InitialSymptom: p.InitialSymptom,
			Details:        p.Details,
			Prices:         p.Prices,
		}
		c.names = append(c.names, name)
	}
	sort.Strings(c.names)
	return c, nil
}

// Names returns product names in sorted order.
func (c *Catalog) Names() []string {
	return append([]string(nil), c.names...)
}

// Lookup returns the named product.
func (c *Catalog) Lookup(name string) (Product, bool) {
	p, ok := c.products[name]
	return p, ok
}

// Openers returns every product that declares an opening symptom.
func (c *Catalog) Openers() []Opener {
	var out []Opener
	for _, name := range c.names {
		if s := c.products[name].InitialSymptom; s != "" {
			out = append(out, Opener{Product: name, Symptom: s})
		}
	}
	return out
}

// ProductInfo renders the product block embedded in the evaluation prompt.
// Unknown products render as "".
func (c *Catalog) ProductInfo(name string) string {
	p, ok := c.products[name]
	if !ok {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "产品名称: %s\n", p.Name)

	if p.Details != nil {
		b.WriteString("产品说明:\n")
		for _, d := range p.Details {
			if d.IsList {
				fmt.Fprintf(&b, "- %s: \n", d.Key)
				for _, item := range d.Items {
					fmt.Fprintf(&b, "  * %s\n", item)
				}
				continue
			}
			fmt.Fprintf(&b, "- %s: %s\n", d.Key, d.Value)
		}
	}

	if p.Prices != nil {
		b.WriteString("价目表:\n")
		for _, pr := range p.Prices {
			fmt.Fprintf(&b, "- 规格: %s，价格: %s元\n", orUnknown(pr.Spec), orUnknown(pr.Retail))
		}
	}
	return b.String()
}

func orUnknown(v string) string {
	if v == "" {
		return "未知"
	}
	return v
}

// UnmarshalJSON walks the object token by token so key order survives.
func (d *Details) UnmarshalJSON(data []byte) error {
	if string(bytes.TrimSpace(data)) == "null" {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("产品说明 must be an object")
	}

	out := Details{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := tok.(string)

		var v any
		if err := dec.Decode(&v); err != nil {
			return err
		}
		field := DetailField{Key: key}
		if list, ok := v.([]any); ok {
			field.IsList = true
			for _, item := range list {
				field.Items = append(field.Items, scalar(item))
			}
		} else {
			field.Value = scalar(v)
		}
		out = append(out, field)
	}
	*d = out
	return nil
}

func (p *Price) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return err
	}
	if v, ok := m["商品规格"]; ok {
		p.Spec = scalar(v)
	}
	if v, ok := m["零售价"]; ok {
		p.Retail = scalar(v)
	}
	return nil
}

func scalar(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}
