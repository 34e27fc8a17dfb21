// Package pricing applies the temporary live price of pinned products while a
// broadcast is on air and puts the original price back afterwards.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"livecommerce/internal/cache"
	"livecommerce/internal/models"
	"livecommerce/internal/observability"

	"github.com/redis/go-redis/v9"
)

// ProductStore reads and reprices catalog products.
type ProductStore interface {
	GetByID(ctx context.Context, id uint) (*models.Product, error)
	UpdatePrice(ctx context.Context, id uint, price int64) error
}

// BroadcastProducts lists the products pinned to broadcasts.
type BroadcastProducts interface {
	ListProducts(ctx context.Context, broadcastID uint) ([]models.BroadcastProduct, error)
	FindOnAirIDsByProduct(ctx context.Context, productID uint) ([]uint, error)
}

// Reads and removes a stash entry in one step so only one caller restores it.
var popScript = redis.NewScript(`
local v = redis.call("HGET", KEYS[1], ARGV[1])
if v then
	redis.call("HDEL", KEYS[1], ARGV[1])
end
return v
`)

// Overlay stashes original prices in Redis for the life of a broadcast.
type Overlay struct {
	rdb        *redis.Client
	products   ProductStore
	broadcasts BroadcastProducts
}

// NewOverlay returns an Overlay.
func NewOverlay(rdb *redis.Client, products ProductStore, broadcasts BroadcastProducts) *Overlay {
	return &Overlay{rdb: rdb, products: products, broadcasts: broadcasts}
}

// Apply stashes the current price of every product with a declared live
// price and switches the product to it. An existing stash entry is kept, so
// retrying never stashes an already discounted price.
func (o *Overlay) Apply(ctx context.Context, broadcastID uint) error {
	bps, err := o.broadcasts.ListProducts(ctx, broadcastID)
	if err != nil {
		return fmt.Errorf("list products of broadcast %d: %w", broadcastID, err)
	}

	key := cache.OriginalPriceKey(broadcastID)
	for _, bp := range bps {
		if !bp.HasLivePrice() {
			continue
		}
		product, err := o.products.GetByID(ctx, bp.ProductID)
		if err != nil {
			return err
		}
		if err := o.rdb.HSetNX(ctx, key, field(bp.ProductID), product.Price).Err(); err != nil {
			return fmt.Errorf("stash price of product %d: %w", bp.ProductID, err)
		}
		if err := o.products.UpdatePrice(ctx, bp.ProductID, *bp.BpPrice); err != nil {
			return err
		}
	}
	return nil
}

// RestoreAll puts back every stashed price of the broadcast and clears the stash.
func (o *Overlay) RestoreAll(ctx context.Context, broadcastID uint) error {
	bps, err := o.broadcasts.ListProducts(ctx, broadcastID)
	if err != nil {
		return fmt.Errorf("list products of broadcast %d: %w", broadcastID, err)
	}

	var firstErr error
	for _, bp := range bps {
		if _, err := o.restore(ctx, broadcastID, bp.ProductID); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return firstErr
	}
	return o.Clear(ctx, broadcastID)
}

// Restore puts back the stashed price of one product. It reports whether a
// price was restored; a second call finds nothing and does nothing.
func (o *Overlay) Restore(ctx context.Context, broadcastID, productID uint) (bool, error) {
	return o.restore(ctx, broadcastID, productID)
}

// RestoreProduct handles a product selling out mid-broadcast: every on-air
// broadcast carrying it goes back to the original price for that product.
func (o *Overlay) RestoreProduct(ctx context.Context, productID uint) error {
	ids, err := o.broadcasts.FindOnAirIDsByProduct(ctx, productID)
	if err != nil {
		return err
	}
	for _, id := range ids {
		restored, err := o.restore(ctx, id, productID)
		if err != nil {
			return err
		}
		if restored {
			observability.GlobalLogger.InfoContext(ctx, "restored original price after sell-out",
				"broadcast_id", id, "product_id", productID)
		}
	}
	return nil
}

// Clear drops the whole stash of a broadcast.
func (o *Overlay) Clear(ctx context.Context, broadcastID uint) error {
	return o.rdb.Del(ctx, cache.OriginalPriceKey(broadcastID)).Err()
}

// OriginalPrice returns the stashed price, or false when none is stashed.
func (o *Overlay) OriginalPrice(ctx context.Context, broadcastID, productID uint) (int64, bool, error) {
	v, err := o.rdb.HGet(ctx, cache.OriginalPriceKey(broadcastID), field(productID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return v, true, nil
}

func (o *Overlay) restore(ctx context.Context, broadcastID, productID uint) (bool, error) {
	key := cache.OriginalPriceKey(broadcastID)
	raw, err := popScript.Run(ctx, o.rdb, []string{key}, field(productID)).Text()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("pop stashed price of product %d: %w", productID, err)
	}
	price, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return false, fmt.Errorf("stashed price of product %d: %w", productID, err)
	}

	if err := o.products.UpdatePrice(ctx, productID, price); err != nil {
		// put it back so a later restore can still find it
		o.rdb.HSetNX(ctx, key, field(productID), price)
		return false, err
	}
	return true, nil
}

func field(productID uint) string {
	return strconv.FormatUint(uint64(productID), 10)
}
