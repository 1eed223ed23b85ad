package parser

import (
	"fmt"

	"github.com/PuerkitoBio/goquery"

	"github.com/aluiziolira/go-scrape-fasteners/models"
)

// Detail page selectors.
const (
	productTitleSelector    = "#catalog-header-title h1"
	productPropertySelector = "#product-property-list tr"
	productImageSelector    = ".catalog-header-product-image"

	// ProductIDParam is the query parameter carrying the product id.
	ProductIDParam = "product"
)

// ExtractProduct builds a Product from a detail page. pageURL must carry the
// product query parameter.
func ExtractProduct(pageURL string, doc *goquery.Selection) (*models.Product, error) {
	_, params, err := SplitURL(pageURL)
	if err != nil {
		return nil, err
	}
	id, err := params.Require(ProductIDParam)
	if err != nil {
		return nil, fmt.Errorf("product page: %w", err)
	}

	name, _ := firstText(doc.Find(productTitleSelector).First())

	details := make(map[string]string)
	doc.Find(productPropertySelector).Each(func(_ int, row *goquery.Selection) {
		key, _ := firstText(row.Find("td.name span").First())
		value, _ := firstText(row.Find("td.value span").First())
		if key != "" && value != "" {
			details[key] = value
		}
	})

	product := &models.Product{
		ID:      id,
		Name:    name,
		URL:     pageURL,
		Details: details,
	}
	if src, ok := doc.Find(productImageSelector).First().Attr("src"); ok && src != "" {
		product.ImageURL = src
	}
	return product, nil
}
