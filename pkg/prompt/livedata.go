package prompt

import (
	"strings"

	"github.com/go-go-golems/chatbot-gateway/pkg/content"
)

const (
	noDescription = "Keine Beschreibung"
	priceOnAsk    = "Preis auf Anfrage"
	unnamed       = "Unbenannt"
)

// RenderLiveData renders the company name, published products, categories and
// contact data as a plain-text digest. Sections without data are omitted; a
// document with nothing to show renders as "".
func RenderLiveData(doc *content.Document) string {
	if doc == nil {
		return ""
	}
	s := doc.Settings
	var sections []string

	if s.CompanyName != "" {
		sections = append(sections, "FIRMENNAME: "+s.CompanyName)
	}

	var products []string
	for _, p := range doc.Products {
		if !p.Published() {
			continue
		}
		desc := firstNonEmpty(p.ShortDescription, p.Description, noDescription)
		price := firstNonEmpty(p.PriceText, priceOnAsk)
		products = append(products, "- "+firstNonEmpty(p.Name, unnamed)+": "+desc+" ("+price+")")
	}
	if len(products) > 0 {
		sections = append(sections, "VERFÜGBARE SERVICES:\n"+strings.Join(products, "\n"))
	}

	if len(doc.Categories) > 0 {
		lines := make([]string, 0, len(doc.Categories))
		for _, c := range doc.Categories {
			lines = append(lines, "- "+firstNonEmpty(c.Name, unnamed)+": "+c.Description)
		}
		sections = append(sections, "KATEGORIEN:\n"+strings.Join(lines, "\n"))
	}

	var contact []string
	if s.ContactEmail != "" {
		contact = append(contact, "E-Mail: "+s.ContactEmail)
	}
	if s.ContactPhone != "" {
		contact = append(contact, "Telefon: "+s.ContactPhone)
	}
	if s.ContactLocation != "" {
		contact = append(contact, "Standort: "+s.ContactLocation)
	}
	if len(contact) > 0 {
		sections = append(sections, "KONTAKTDATEN:\n"+strings.Join(contact, "\n"))
	}

	return strings.Join(sections, "\n\n")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
