package catalog

import (
	"cmp"
	"slices"

	"github.com/OpenModelDB/model-search/internal/search/tagselect"
)

// Catalog is an immutable, fully loaded model database.
type Catalog struct {
	Models     map[string]Model
	Users      map[string]User
	Tags       map[string]Tag
	Categories map[string]TagCategory

	// Version identifies the exact file contents the catalog was loaded from.
	Version string

	modelIDs []string
	byAuthor map[string][]string
}

// New assembles a catalog from already decoded parts. Model IDs are taken
// from the map keys.
func New(models map[string]Model, users map[string]User, tags map[string]Tag, categories map[string]TagCategory, version string) *Catalog {
	c := &Catalog{
		Models:     make(map[string]Model, len(models)),
		Users:      users,
		Tags:       tags,
		Categories: categories,
		Version:    version,
		modelIDs:   make([]string, 0, len(models)),
		byAuthor:   make(map[string][]string),
	}
	for id, m := range models {
		m.ID = id
		c.Models[id] = m
		c.modelIDs = append(c.modelIDs, id)
	}
	slices.Sort(c.modelIDs)
	for _, id := range c.modelIDs {
		for _, author := range c.Models[id].Authors {
			c.byAuthor[author] = append(c.byAuthor[author], id)
		}
	}
	return c
}

// ModelIDs returns every model ID in ascending order.
func (c *Catalog) ModelIDs() []string {
	return slices.Clone(c.modelIDs)
}

// Model looks up a model by ID.
func (c *Catalog) Model(id string) (Model, bool) {
	m, ok := c.Models[id]
	return m, ok
}

// ModelsByAuthor returns the IDs of the models user authored or co-authored.
func (c *Catalog) ModelsByAuthor(user string) []string {
	return slices.Clone(c.byAuthor[user])
}

// AuthorName returns the display name of a user, falling back to the ID.
func (c *Catalog) AuthorName(user string) string {
	if u, ok := c.Users[user]; ok && u.Name != "" {
		return u.Name
	}
	return user
}

// FilterCategories converts the tag categories into filter-panel categories,
// ordered by Order and then ID.
func (c *Catalog) FilterCategories() []tagselect.Category[string] {
	ids := make([]string, 0, len(c.Categories))
	for id := range c.Categories {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(a, b string) int {
		if o := cmp.Compare(c.Categories[a].Order, c.Categories[b].Order); o != 0 {
			return o
		}
		return cmp.Compare(a, b)
	})
	out := make([]tagselect.Category[string], 0, len(ids))
	for _, id := range ids {
		tc := c.Categories[id]
		out = append(out, tagselect.Category[string]{
			ID:          id,
			Name:        tc.Name,
			Description: tc.Description,
			Tags:        slices.Clone(tc.Tags),
			Exclusive:   tc.Exclusive,
		})
	}
	return out
}
