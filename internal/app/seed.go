package app

import (
	"context"
	"fmt"

	"github.com/ariefcatur/go-realtime-checkout/internal/inventory"
)

func promo(c int64) *int64 { return &c }

// demoCatalog is loaded into the memory ledger so a local run has something
// to sell.
var demoCatalog = []inventory.Variant{
	{ID: "camiseta-basica-p-preto", ProductID: "camiseta-basica", Name: "Camiseta Básica", Size: "P", Color: "preto", PriceCents: 7990, Stock: 20, WeightGrams: 250},
	{ID: "camiseta-basica-m-preto", ProductID: "camiseta-basica", Name: "Camiseta Básica", Size: "M", Color: "preto", PriceCents: 7990, Stock: 20, WeightGrams: 260},
	{ID: "camiseta-basica-m-branco", ProductID: "camiseta-basica", Name: "Camiseta Básica", Size: "M", Color: "branco", PriceCents: 7990, PromoCents: promo(5990), Stock: 12, WeightGrams: 260},
	{ID: "vestido-midi-p-vermelho", ProductID: "vestido-midi", Name: "Vestido Midi", Size: "P", Color: "vermelho", PriceCents: 18990, PromoCents: promo(14990), Stock: 3, WeightGrams: 450},
	{ID: "calca-jeans-40", ProductID: "calca-jeans", Name: "Calça Jeans Reta", Size: "40", PriceCents: 21990, Stock: 8, WeightGrams: 700},
	{ID: "bone-aba-curva", ProductID: "bone-aba-curva", Name: "Boné Aba Curva", PriceCents: 4990, Stock: 1, WeightGrams: 150},
}

// Seed sets stock for every demo variant.
func Seed(ctx context.Context, l inventory.Ledger) error {
	for _, v := range demoCatalog {
		if err := l.UpsertVariant(ctx, v); err != nil {
			return fmt.Errorf("seed %s: %w", v.ID, err)
		}
	}
	return nil
}
