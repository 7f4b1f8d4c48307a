package sifen

import (
	"encoding/xml"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Marker is the cheap structural pre-check applied to a payload before
// full parsing. Anything without it is treated as "not an electronic
// document" rather than an error.
const Marker = "<DE Id="

// LooksLikeInvoice reports whether the text plausibly contains a SIFEN
// electronic document.
func LooksLikeInvoice(text string) bool {
	return strings.Contains(text, Marker)
}

// Invoice holds every field extracted from a SIFEN XML document. All
// extraction happens before any store write, so a failed parse leaves
// no partial rows behind.
type Invoice struct {
	CDC string // Id attribute of <DE>

	DocumentTypeCode int    // iTiDE
	DocumentTypeName string // dDesTiDE
	Establishment    string // dEst
	ExpeditionPoint  string // dPunExp
	Number           string // dNumDoc

	IssuedAt time.Time       // dFeEmiDE
	Total    decimal.Decimal // gTotSub/dTotOpe

	IssuerRUC       string // dRucEm
	IssuerName      string // dNomEmi
	IssuerTradeName string // dNomFanEmi, optional

	RegionCode string // cDepEmi
	RegionName string // dDesDepEmi
	CityCode   string // cCiuEmi
	CityName   string // dDesCiuEmi
}

// node is a generic XML tree used instead of fixed structs so the <DE>
// element can be located under whatever wrapper the sender used
// (rDE, rLoteDE, batch envelopes) and regardless of namespace prefix.
type node struct {
	XMLName  xml.Name
	Attrs    []xml.Attr `xml:",any,attr"`
	Text     string     `xml:",chardata"`
	Children []node     `xml:",any"`
}

// find locates the first descendant (or self) with the given local name.
func (n *node) find(name string) *node {
	if n.XMLName.Local == name {
		return n
	}
	for i := range n.Children {
		if found := n.Children[i].find(name); found != nil {
			return found
		}
	}
	return nil
}

// child returns the first direct child with the given local name.
func (n *node) child(name string) *node {
	for i := range n.Children {
		if n.Children[i].XMLName.Local == name {
			return &n.Children[i]
		}
	}
	return nil
}

// text returns the trimmed text of a direct child, or "" when the child
// is absent or empty.
func (n *node) text(name string) string {
	c := n.child(name)
	if c == nil {
		return ""
	}
	return strings.TrimSpace(c.Text)
}

func (n *node) attr(name string) string {
	for _, a := range n.Attrs {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

// requireText extracts a mandatory scalar from a block, failing with
// the element's path when absent.
func requireText(n *node, path, name string) (string, error) {
	v := n.text(name)
	if v == "" {
		return "", &MissingFieldError{Path: path + "/" + name}
	}
	return v, nil
}

// Parse extracts an Invoice from a SIFEN XML payload. The traversal
// order is fixed: DE root, gTimb, gDatGralOpe, gEmis, then each scalar
// in turn; the first absent mandatory element is reported.
func Parse(xmlText string) (*Invoice, error) {
	var root node
	if err := xml.Unmarshal([]byte(xmlText), &root); err != nil {
		return nil, &MalformedError{Reason: "invalid XML", Err: err}
	}

	de := root.find("DE")
	if de == nil {
		return nil, &MalformedError{Reason: "no <DE> node in document"}
	}

	gTimb := de.child("gTimb")
	if gTimb == nil {
		return nil, &MissingFieldError{Path: "DE/gTimb"}
	}
	gDatGralOpe := de.child("gDatGralOpe")
	if gDatGralOpe == nil {
		return nil, &MissingFieldError{Path: "DE/gDatGralOpe"}
	}
	gEmis := gDatGralOpe.child("gEmis")
	if gEmis == nil {
		return nil, &MissingFieldError{Path: "DE/gDatGralOpe/gEmis"}
	}

	inv := &Invoice{}

	inv.CDC = de.attr("Id")
	if inv.CDC == "" {
		return nil, &MissingFieldError{Path: "DE@Id"}
	}

	typeCode, err := requireText(gTimb, "gTimb", "iTiDE")
	if err != nil {
		return nil, err
	}
	inv.DocumentTypeCode, err = strconv.Atoi(typeCode)
	if err != nil {
		return nil, &MalformedError{Reason: "iTiDE is not an integer", Err: err}
	}
	if inv.DocumentTypeName, err = requireText(gTimb, "gTimb", "dDesTiDE"); err != nil {
		return nil, err
	}
	if inv.Establishment, err = requireText(gTimb, "gTimb", "dEst"); err != nil {
		return nil, err
	}
	if inv.ExpeditionPoint, err = requireText(gTimb, "gTimb", "dPunExp"); err != nil {
		return nil, err
	}
	if inv.Number, err = requireText(gTimb, "gTimb", "dNumDoc"); err != nil {
		return nil, err
	}

	issuedAt, err := requireText(gDatGralOpe, "gDatGralOpe", "dFeEmiDE")
	if err != nil {
		return nil, err
	}
	inv.IssuedAt, err = parseIssueDate(issuedAt)
	if err != nil {
		return nil, &MalformedError{Reason: "dFeEmiDE is not a valid timestamp", Err: err}
	}

	gTotSub := de.child("gTotSub")
	if gTotSub == nil {
		return nil, &MissingFieldError{Path: "DE/gTotSub"}
	}
	total, err := requireText(gTotSub, "gTotSub", "dTotOpe")
	if err != nil {
		return nil, err
	}
	inv.Total, err = decimal.NewFromString(total)
	if err != nil {
		return nil, &MalformedError{Reason: "dTotOpe is not a valid decimal", Err: err}
	}

	if inv.IssuerRUC, err = requireText(gEmis, "gEmis", "dRucEm"); err != nil {
		return nil, err
	}
	if inv.IssuerName, err = requireText(gEmis, "gEmis", "dNomEmi"); err != nil {
		return nil, err
	}
	inv.IssuerTradeName = gEmis.text("dNomFanEmi") // optional

	if inv.RegionCode, err = requireText(gEmis, "gEmis", "cDepEmi"); err != nil {
		return nil, err
	}
	if inv.RegionName, err = requireText(gEmis, "gEmis", "dDesDepEmi"); err != nil {
		return nil, err
	}
	if inv.CityCode, err = requireText(gEmis, "gEmis", "cCiuEmi"); err != nil {
		return nil, err
	}
	if inv.CityName, err = requireText(gEmis, "gEmis", "dDesCiuEmi"); err != nil {
		return nil, err
	}

	return inv, nil
}

// parseIssueDate accepts dFeEmiDE with or without a UTC offset.
// SIFEN emits local Asunción time without an offset.
func parseIssueDate(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02T15:04:05", s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}
