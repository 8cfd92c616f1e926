package extract

import (
	"regexp"
	"strings"

	"mailpipe/internal/model"
)

var (
	urlPattern = regexp.MustCompile(`https?://[^\s<>"')\]]+`)

	// Phrases that introduce a delivery estimate near a tracking link,
	// followed by an ISO, US, or long-form date.
	deliveryPhrasePattern = regexp.MustCompile(
		`(?i)(?:estimated delivery|expected delivery|arriving|arrives|expected by|delivery date)\s*(?:on|by|:)?\s+(` +
			`\d{4}-\d{2}-\d{2}` +
			`|\d{1,2}/\d{1,2}/\d{2,4}` +
			`|(?:(?:mon|tues|wednes|thurs|fri|satur|sun)day,?\s+)?(?:jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\.?\s+\d{1,2}(?:,?\s+\d{4})?` +
			`)`,
	)
)

// carrier inference by hostname, then by a generic tracking keyword.
var carrierDomains = []struct {
	substr  string
	carrier string
}{
	{"ups.com", "UPS"},
	{"fedex.com", "FedEx"},
	{"usps.com", "USPS"},
	{"dhl.", "DHL"},
	{"17track", "17TRACK"},
	{"amazon.", "Amazon"},
}

// TrackingItems scans body text for shipment-tracking links. Marketing
// click-trackers are excluded by rule: a link that only carries
// campaign parameters is not a shipment.
func TrackingItems(text string) []model.TrackingItem {
	urls := urlPattern.FindAllString(text, -1)
	if len(urls) == 0 {
		return nil
	}

	deliveryDate := deliveryDateSnippet(text)

	seen := make(map[string]bool)
	var items []model.TrackingItem
	for _, url := range urls {
		url = strings.TrimRight(url, ".,;")
		if seen[url] {
			continue
		}

		carrier, ok := classifyTrackingURL(url)
		if !ok {
			continue
		}

		seen[url] = true
		items = append(items, model.TrackingItem{
			URL:          url,
			Carrier:      carrier,
			DeliveryDate: deliveryDate,
		})
	}
	return items
}

func classifyTrackingURL(url string) (carrier string, ok bool) {
	lower := strings.ToLower(url)

	if isMarketingLink(lower) {
		return "", false
	}

	for _, cd := range carrierDomains {
		if strings.Contains(lower, cd.substr) {
			return cd.carrier, true
		}
	}
	if strings.Contains(lower, "track") {
		return "", true
	}
	return "", false
}

func isMarketingLink(lowerURL string) bool {
	if strings.Contains(lowerURL, "utm_") {
		return true
	}
	for _, marker := range []string{"unsubscribe", "click.", "links.", "email.mailgun", "list-manage"} {
		if strings.Contains(lowerURL, marker) {
			return true
		}
	}
	return false
}

// deliveryDateSnippet returns the first delivery-estimate phrase found
// in the text, date part only.
func deliveryDateSnippet(text string) string {
	m := deliveryPhrasePattern.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}
