package detect_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xzrsniper/affiliate-tracking-sub001/internal/detect"
	"github.com/xzrsniper/affiliate-tracking-sub001/internal/domain"
	"github.com/xzrsniper/affiliate-tracking-sub001/internal/page"
)

func pageFor(t *testing.T, rawURL, html string) *page.Context {
	t.Helper()
	pc, err := page.New(rawURL, "", strings.NewReader(html))
	require.NoError(t, err)
	return pc
}

func TestIsConversionPage_URLStages(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want bool
	}{
		{"thank you page", "https://shop.example/thank-you", true},
		{"order received", "https://shop.example/order-received", true},
		{"order confirmation with query", "https://shop.example/order-confirmation?id=9", true},
		{"localized success", "https://shop.example/danke", true},
		{"plain product page", "https://shop.example/products/mug", false},
		{"checkout step", "https://shop.example/checkout", false},
		{"payment step", "https://shop.example/payment/step2", false},
		{"cart", "https://shop.example/cart", false},
		{"cart-like product slug is not excluded", "https://shop.example/products/cartridge", false},
	}

	d := detect.New(domain.SiteConfig{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pc := pageFor(t, tt.url, "<html><body><p>hello</p></body></html>")
			assert.Equal(t, tt.want, d.IsConversionPage(pc))
		})
	}
}

func TestIsConversionPage_CheckoutExclusionBeatsContent(t *testing.T) {
	d := detect.New(domain.SiteConfig{})
	pc := pageFor(t, "https://shop.example/checkout",
		"<html><body><h1>Thank you for your order</h1></body></html>")

	assert.False(t, d.IsConversionPage(pc),
		"success text on a checkout path must not count as a conversion")
}

func TestIsConversionPage_ContentFallback(t *testing.T) {
	d := detect.New(domain.SiteConfig{})

	pc := pageFor(t, "https://shop.example/orders/9f2",
		"<html><body><h1>Дякуємо за замовлення!</h1><p>№ 4411</p></body></html>")
	assert.True(t, d.IsConversionPage(pc))

	pc = pageFor(t, "https://shop.example/orders/9f2",
		"<html><body><h1>Your cart is empty</h1></body></html>")
	assert.False(t, d.IsConversionPage(pc))
}

func TestIsConversionPage_ScriptTextIsNotVisible(t *testing.T) {
	d := detect.New(domain.SiteConfig{})
	pc := pageFor(t, "https://shop.example/landing",
		`<html><body><script>var s = "thank you for your order";</script><p>Welcome</p></body></html>`)

	assert.False(t, d.IsConversionPage(pc))
}

func TestIsConversionURL_ConfiguredConversionURLs(t *testing.T) {
	d := detect.New(domain.SiteConfig{ConversionURLs: []string{"/custom-finish"}})

	pc := pageFor(t, "https://shop.example/custom-finish/abc", "<html><body></body></html>")
	assert.True(t, d.IsConversionPage(pc))
}

func TestMatchesConfirmationText(t *testing.T) {
	assert.True(t, detect.MatchesConfirmationText("ORDER CONFIRMED — see you soon"))
	assert.True(t, detect.MatchesConfirmationText("Спасибо за заказ!"))
	assert.False(t, detect.MatchesConfirmationText("add to cart"))
	assert.False(t, detect.MatchesConfirmationText(""))
}
