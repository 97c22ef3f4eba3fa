package grocery

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/dukerupert/mercado/internal/model"
)

// Categorize returns the category for a manually entered item name.
// It performs case- and accent-insensitive matching: exact match first, then
// substring match. Falls back to Mercearia, the default for manual entry.
func Categorize(itemName string) model.Category {
	name := fold(itemName)
	if name == "" {
		return model.CategoryGrocery
	}

	// Phase 1: exact match
	if cat, ok := exactMatch[name]; ok {
		return cat
	}

	// Phase 2: substring match (ordered longer/more-specific first)
	for _, entry := range substringMatches {
		if strings.Contains(name, entry.keyword) {
			return entry.category
		}
	}

	return model.CategoryGrocery
}

// Normalize maps a category label from an untrusted source onto the fixed
// set. Unknown or empty labels become Outros.
func Normalize(label string) model.Category {
	folded := fold(label)
	if folded == "" {
		return model.CategoryOther
	}
	for _, c := range model.Categories {
		if fold(string(c)) == folded {
			return c
		}
	}
	return model.CategoryOther
}

var stripMarks = runes.Remove(runes.In(unicode.Mn))

// fold lowercases s, trims it and strips diacritics so "Açúcar" matches "acucar".
func fold(s string) string {
	t := transform.Chain(norm.NFD, stripMarks, norm.NFC)
	out, _, err := transform.String(t, strings.ToLower(strings.TrimSpace(s)))
	if err != nil {
		return strings.ToLower(strings.TrimSpace(s))
	}
	return out
}

var exactMatch = map[string]model.Category{
	// Hortifruti
	"banana":       model.CategoryProduce,
	"maca":         model.CategoryProduce,
	"laranja":      model.CategoryProduce,
	"limao":        model.CategoryProduce,
	"mamao":        model.CategoryProduce,
	"manga":        model.CategoryProduce,
	"abacaxi":      model.CategoryProduce,
	"melancia":     model.CategoryProduce,
	"uva":          model.CategoryProduce,
	"morango":      model.CategoryProduce,
	"tomate":       model.CategoryProduce,
	"batata":       model.CategoryProduce,
	"cebola":       model.CategoryProduce,
	"alho":         model.CategoryProduce,
	"alface":       model.CategoryProduce,
	"cenoura":      model.CategoryProduce,
	"abobrinha":    model.CategoryProduce,
	"pepino":       model.CategoryProduce,
	"pimentao":     model.CategoryProduce,
	"brocolis":     model.CategoryProduce,
	"couve":        model.CategoryProduce,
	"mandioca":     model.CategoryProduce,
	"cheiro-verde": model.CategoryProduce,
	"ovos":         model.CategoryProduce,

	// Açougue
	"carne":    model.CategoryButcher,
	"frango":   model.CategoryButcher,
	"picanha":  model.CategoryButcher,
	"alcatra":  model.CategoryButcher,
	"patinho":  model.CategoryButcher,
	"linguica": model.CategoryButcher,
	"costela":  model.CategoryButcher,
	"bacon":    model.CategoryButcher,
	"peixe":    model.CategoryButcher,
	"file":     model.CategoryButcher,

	// Mercearia
	"arroz":    model.CategoryGrocery,
	"feijao":   model.CategoryGrocery,
	"acucar":   model.CategoryGrocery,
	"cafe":     model.CategoryGrocery,
	"oleo":     model.CategoryGrocery,
	"sal":      model.CategoryGrocery,
	"farinha":  model.CategoryGrocery,
	"leite":    model.CategoryGrocery,
	"queijo":   model.CategoryGrocery,
	"manteiga": model.CategoryGrocery,
	"macarrao": model.CategoryGrocery,

	// Bebidas
	"agua":         model.CategoryDrinks,
	"cerveja":      model.CategoryDrinks,
	"refrigerante": model.CategoryDrinks,
	"vinho":        model.CategoryDrinks,
	"suco":         model.CategoryDrinks,
	"energetico":   model.CategoryDrinks,

	// Limpeza
	"detergente":     model.CategoryCleaning,
	"desinfetante":   model.CategoryCleaning,
	"amaciante":      model.CategoryCleaning,
	"esponja":        model.CategoryCleaning,
	"agua sanitaria": model.CategoryCleaning,

	// Higiene
	"sabonete":        model.CategoryHygiene,
	"shampoo":         model.CategoryHygiene,
	"condicionador":   model.CategoryHygiene,
	"desodorante":     model.CategoryHygiene,
	"creme dental":    model.CategoryHygiene,
	"papel higienico": model.CategoryHygiene,
	"fio dental":      model.CategoryHygiene,

	// Padaria
	"pao":           model.CategoryBakery,
	"pao frances":   model.CategoryBakery,
	"pao de queijo": model.CategoryBakery,
	"bolo":          model.CategoryBakery,
	"broa":          model.CategoryBakery,
	"rosca":         model.CategoryBakery,
}

type substringEntry struct {
	keyword  string
	category model.Category
}

var substringMatches = []substringEntry{
	// Multi-word entries that would otherwise be shadowed
	{"agua sanitaria", model.CategoryCleaning},
	{"papel higienico", model.CategoryHygiene},
	{"papel toalha", model.CategoryCleaning},
	{"pasta de dente", model.CategoryHygiene},
	{"creme dental", model.CategoryHygiene},
	{"pao de queijo", model.CategoryBakery},
	{"molho de tomate", model.CategoryGrocery},
	{"extrato de tomate", model.CategoryGrocery},
	{"leite de coco", model.CategoryGrocery},

	// Bebidas
	{"refrigerante", model.CategoryDrinks},
	{"cerveja", model.CategoryDrinks},
	{"vinho", model.CategoryDrinks},
	{"suco", model.CategoryDrinks},
	{"agua", model.CategoryDrinks},

	// Padaria
	{"pao", model.CategoryBakery},
	{"bolo", model.CategoryBakery},
	{"biscoito", model.CategoryBakery},
	{"torrada", model.CategoryBakery},

	// Açougue
	{"carne", model.CategoryButcher},
	{"frango", model.CategoryButcher},
	{"linguica", model.CategoryButcher},
	{"peixe", model.CategoryButcher},
	{"bife", model.CategoryButcher},
	{"moida", model.CategoryButcher},

	// Limpeza
	{"sabao", model.CategoryCleaning},
	{"detergente", model.CategoryCleaning},
	{"desinfetante", model.CategoryCleaning},
	{"limpador", model.CategoryCleaning},
	{"saco de lixo", model.CategoryCleaning},
	{"esponja", model.CategoryCleaning},

	// Higiene
	{"sabonete", model.CategoryHygiene},
	{"shampoo", model.CategoryHygiene},
	{"desodorante", model.CategoryHygiene},
	{"escova de dente", model.CategoryHygiene},
	{"absorvente", model.CategoryHygiene},

	// Hortifruti
	{"tomate", model.CategoryProduce},
	{"batata", model.CategoryProduce},
	{"cebola", model.CategoryProduce},
	{"banana", model.CategoryProduce},
	{"alface", model.CategoryProduce},
	{"fruta", model.CategoryProduce},
	{"verdura", model.CategoryProduce},
	{"legume", model.CategoryProduce},
}
