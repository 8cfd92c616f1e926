package ai

import "strings"

// Category carries the classifier prompt fragment, the fallback
// keywords, and whether messages in it get a summary pass.
type Category struct {
	Name         string
	Prompt       string
	Keywords     []string
	NeedsSummary bool
}

// Categories in classification order. Keyword matching stops on the
// first category that hits.
var Categories = []Category{
	{
		Name:         "primary",
		Prompt:       "things that need a response or action from me",
		NeedsSummary: true,
	},
	{
		Name:         "updates",
		Prompt:       "notifications about my account activity",
		Keywords:     []string{"notification", "alert", "account update", "security", "password", "login", "verification"},
		NeedsSummary: true,
	},
	{
		Name:     "social",
		Prompt:   "social media notifications",
		Keywords: []string{"facebook", "instagram", "twitter", "linkedin", "tiktok", "social"},
	},
	{
		Name:     "newsletters",
		Prompt:   "informational newsletters and digests",
		Keywords: []string{"newsletter", "daily digest", "weekly digest", "monthly digest", "subscribe", "unsubscribe", "newsletter digest"},
	},
	{
		Name:     "promotions",
		Prompt:   "things trying to sell me something",
		Keywords: []string{"sale", "deal", "promo", "promotion", "% off", "discount", "coupon"},
	},
	{
		Name:   "other",
		Prompt: "catch all for anything else",
	},
}

// CategoryByName returns the category or nil for unknown names.
func CategoryByName(name string) *Category {
	name = strings.ToLower(strings.TrimSpace(name))
	for i := range Categories {
		if Categories[i].Name == name {
			return &Categories[i]
		}
	}
	return nil
}

// NeedsSummary reports whether a category name is flagged for the
// summary pass. Unknown categories are not.
func NeedsSummary(name string) bool {
	if c := CategoryByName(name); c != nil {
		return c.NeedsSummary
	}
	return false
}

// NormalizeCategory coerces an arbitrary model answer into a known
// category name, falling back to "primary" like the original behavior
// for off-list answers.
func NormalizeCategory(name string) string {
	if c := CategoryByName(name); c != nil {
		return c.Name
	}
	return "primary"
}
