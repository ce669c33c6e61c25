// Seed loads a demo catalogue, drivers, a funded buyer and a gift code into
// the configured postgres store. Rerunning is safe: rows are keyed by name.
//
//	seed --buyer 6f1c...  --balance 1000 --drivers 2
package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	flag "github.com/spf13/pflag"

	"qatmarket/internal/app"
	"qatmarket/internal/coordinator"
	"qatmarket/internal/domain"
	"qatmarket/internal/giftcode"
	"qatmarket/internal/repository"
	"qatmarket/internal/repository/postgres"
	"qatmarket/pkg/config"
	"qatmarket/pkg/errors"
	"qatmarket/pkg/logger"
)

var catalogue = []struct {
	name  string
	price string
}{
	{"Olive soap", "300"},
	{"Shampoo 500ml", "450"},
	{"Bath towel", "1200"},
	{"Laundry detergent 2kg", "980"},
}

func seedID(kind, name string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("qatmarket/"+kind+"/"+name))
}

func main() {
	_ = godotenv.Load()

	buyerFlag := flag.String("buyer", "", "buyer user id to fund (random when empty)")
	balance := flag.String("balance", "1000", "opening deposit for the buyer")
	drivers := flag.Int("drivers", 2, "number of drivers to create")
	giftAmount := flag.String("giftcode-amount", "50", "value of the demo gift code, 0 to skip")
	flag.Parse()

	log := logger.New("seed")
	cfg := config.Load()
	if err := cfg.ValidateCore(); err != nil {
		log.Fatal("Invalid configuration", map[string]interface{}{"error": err.Error()})
	}
	if cfg.Database.Driver == "memory" {
		log.Fatal("Seeding needs a persistent store; set STORE_DRIVER=postgres", nil)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to start", map[string]interface{}{"error": err.Error()})
	}
	defer a.Close()
	a.Hub.Start(ctx)
	defer a.Hub.Close(context.Background())

	products := postgres.NewCatalogue(a.DB)
	for _, item := range catalogue {
		p := repository.Product{ID: seedID("product", item.name), Name: item.name, Price: decimal.RequireFromString(item.price), Available: true}
		if err := products.Upsert(ctx, p); err != nil {
			log.Fatal("Failed to seed product", map[string]interface{}{"product": item.name, "error": err.Error()})
		}
		fmt.Printf("product  %s  %-24s %s\n", p.ID, p.Name, p.Price)
	}

	for i := 1; i <= *drivers; i++ {
		name := fmt.Sprintf("Driver %d", i)
		d := &domain.Driver{
			ID:        seedID("driver", name),
			UserID:    seedID("driver-user", name),
			Name:      name,
			Status:    domain.DriverStatusAvailable,
			UpdatedAt: time.Now().UTC(),
		}
		err := a.UnitOfWork.Do(ctx, func(ctx context.Context, tx repository.Tx) error {
			return tx.Drivers().Create(ctx, d)
		})
		if err != nil && !errors.Is(err, errors.ErrDuplicate) {
			log.Fatal("Failed to seed driver", map[string]interface{}{"driver": name, "error": err.Error()})
		}
		fmt.Printf("driver   %s  user %s\n", d.ID, d.UserID)
	}

	buyer := uuid.New()
	if *buyerFlag != "" {
		if buyer, err = uuid.Parse(*buyerFlag); err != nil {
			log.Fatal("Invalid --buyer", map[string]interface{}{"error": err.Error()})
		}
	}
	amount, err := decimal.NewFromString(*balance)
	if err != nil {
		log.Fatal("Invalid --balance", map[string]interface{}{"error": err.Error()})
	}
	if amount.IsPositive() {
		_, err := a.Coordinator.Execute(ctx, coordinator.Deposit{UserID: buyer, Amount: amount, Reference: "seed-" + buyer.String()})
		if err != nil && !errors.Is(err, errors.ErrDuplicateReference) {
			log.Fatal("Failed to fund buyer", map[string]interface{}{"error": err.Error()})
		}
	}
	fmt.Printf("buyer    %s  funded %s\n", buyer, amount)

	gift, err := decimal.NewFromString(*giftAmount)
	if err == nil && gift.IsPositive() {
		res, err := a.Coordinator.Execute(ctx, coordinator.IssueGiftCode{
			IssueRequest: giftcode.IssueRequest{Amount: gift, MaxUses: 10},
			IssuedBy:     seedID("admin", "seed"),
		})
		if err != nil {
			log.Fatal("Failed to issue gift code", map[string]interface{}{"error": err.Error()})
		}
		if g, ok := res.Value.(*domain.GiftCode); ok {
			fmt.Printf("giftcode %s  worth %s x%d\n", g.Code, g.Amount, g.MaxUses)
		}
	}
}
