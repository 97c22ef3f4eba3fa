package model

// Category is one of the fixed shopping-list category labels.
type Category string

const (
	CategoryProduce  Category = "Hortifruti"
	CategoryButcher  Category = "Açougue"
	CategoryGrocery  Category = "Mercearia"
	CategoryDrinks   Category = "Bebidas"
	CategoryCleaning Category = "Limpeza"
	CategoryHygiene  Category = "Higiene"
	CategoryBakery   Category = "Padaria"
	CategoryOther    Category = "Outros"
)

const (
	// MinQuantity is the floor applied when a quantity is decremented.
	MinQuantity     = 0.1
	DefaultQuantity = 1.0
)

// Categories lists every valid category in display order.
var Categories = []Category{
	CategoryProduce,
	CategoryButcher,
	CategoryGrocery,
	CategoryDrinks,
	CategoryCleaning,
	CategoryHygiene,
	CategoryBakery,
	CategoryOther,
}

// Valid reports whether c is one of Categories.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// MarketItem is one entry on the active shopping list. Once a trip is
// finished, a copy of the item is owned by that trip and never changes again.
type MarketItem struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Quantity    float64  `json:"quantity"`
	Price       float64  `json:"price"`
	Category    Category `json:"category"`
	Checked     bool     `json:"checked"`
	IsEstimated bool     `json:"isEstimated,omitempty"`
}

// Subtotal is price times quantity.
func (i MarketItem) Subtotal() float64 {
	return i.Price * i.Quantity
}

// ItemPatch carries the fields of an item update. Nil fields are left as they are.
type ItemPatch struct {
	Name        *string   `json:"name,omitempty"`
	Quantity    *float64  `json:"quantity,omitempty"`
	Price       *float64  `json:"price,omitempty"`
	Category    *Category `json:"category,omitempty"`
	Checked     *bool     `json:"checked,omitempty"`
	IsEstimated *bool     `json:"isEstimated,omitempty"`
}

// Apply returns a copy of item with the patch merged over it.
func (p ItemPatch) Apply(item MarketItem) MarketItem {
	if p.Name != nil {
		item.Name = *p.Name
	}
	if p.Quantity != nil {
		item.Quantity = *p.Quantity
	}
	if p.Price != nil {
		item.Price = *p.Price
	}
	if p.Category != nil {
		item.Category = *p.Category
	}
	if p.Checked != nil {
		item.Checked = *p.Checked
	}
	if p.IsEstimated != nil {
		item.IsEstimated = *p.IsEstimated
	}
	return item
}

// Empty reports whether the patch changes nothing.
func (p ItemPatch) Empty() bool {
	return p.Name == nil && p.Quantity == nil && p.Price == nil &&
		p.Category == nil && p.Checked == nil && p.IsEstimated == nil
}
