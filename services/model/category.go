package model

import (
	"fmt"
	"strings"
)

type Category string

const (
	CategoryAds      Category = "ads"
	CategoryTasks    Category = "tasks"
	CategorySurveys  Category = "surveys"
	CategoryInstalls Category = "installs"
)

var Categories = []Category{CategoryAds, CategoryTasks, CategorySurveys, CategoryInstalls}

var categoryAliases = map[string]Category{
	"ads":          CategoryAds,
	"ad":           CategoryAds,
	"tasks":        CategoryTasks,
	"task":         CategoryTasks,
	"surveys":      CategorySurveys,
	"survey":       CategorySurveys,
	"installs":     CategoryInstalls,
	"install":      CategoryInstalls,
	"app_installs": CategoryInstalls,
	"app_install":  CategoryInstalls,
}

// ParseCategory normalises a category token or alias to its canonical form.
func ParseCategory(s string) (Category, error) {
	c, ok := categoryAliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", fmt.Errorf("unknown category %q", s)
	}
	return c, nil
}

func (c Category) Valid() bool {
	switch c {
	case CategoryAds, CategoryTasks, CategorySurveys, CategoryInstalls:
		return true
	}
	return false
}

// RequiresInventory reports whether a provider in this category needs at
// least one active offer before it can be offered to a user.
func (c Category) RequiresInventory() bool {
	return c == CategoryTasks || c == CategoryInstalls
}
