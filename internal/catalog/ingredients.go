package catalog

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/roach88/posvault/internal/model"
	"github.com/roach88/posvault/internal/store"
)

// Ingredients returns every ingredient in insertion order.
func (c *Catalog) Ingredients(ctx context.Context) ([]model.Ingredient, error) {
	records, err := c.store.GetAll(ctx, model.CollectionIngredients)
	if err != nil {
		return nil, err
	}
	return store.DecodeAll[model.Ingredient](records)
}

// PutIngredient creates or replaces an ingredient.
func (c *Catalog) PutIngredient(ctx context.Context, ing model.Ingredient) error {
	if ing.ID == "" {
		return fmt.Errorf("put ingredient: %w: id is required", ErrInvalidEntity)
	}
	ing.Name = NormalizeText(ing.Name)
	return c.store.Put(ctx, model.CollectionIngredients, ing)
}

// AdjustIngredientStock adds delta (negative to consume) to an ingredient's
// stock and returns the updated record. The read and the write happen in one
// transaction, so concurrent adjustments never lose an update.
func (c *Catalog) AdjustIngredientStock(ctx context.Context, id string, delta decimal.Decimal) (model.Ingredient, error) {
	var updated model.Ingredient
	err := c.store.RunTransaction(ctx, []string{model.CollectionIngredients}, store.ReadWrite, func(tx *store.Tx) error {
		rec, err := tx.Get(ctx, model.CollectionIngredients, id)
		if err != nil {
			return err
		}
		ing, err := store.Decode[model.Ingredient](rec)
		if err != nil {
			return err
		}

		next := ing.Stock.Add(delta)
		if next.IsNegative() {
			return fmt.Errorf("adjust %s by %s: %w (have %s)", id, delta, ErrInsufficientStock, ing.Stock)
		}
		ing.Stock = next
		updated = ing
		return tx.Put(ctx, model.CollectionIngredients, ing)
	})
	if err != nil {
		return model.Ingredient{}, err
	}

	c.logger.Info("ingredient stock adjusted",
		"ingredient", id,
		"delta", delta.String(),
		"stock", updated.Stock.String())
	return updated, nil
}
