package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/washline/washline/internal/config"
	"github.com/washline/washline/internal/logging"
	"github.com/washline/washline/internal/models"
	"github.com/washline/washline/internal/stub"
)

func main() {
	cfg := config.Load()
	log := logging.New(os.Stdout, cfg.LogLevel)

	// Seed a small shop directory so the client has counterparties to talk to
	store := stub.NewStore([]models.Shop{
		{ShopID: 1, Name: "Denniel Shop", Address: "12 Mabini St", OperationHours: "8am-6pm", AdminID: 1},
		{ShopID: 2, Name: "Clean Pro Laundry", Address: "48 Rizal Ave", OperationHours: "7am-9pm", AdminID: 2},
		{ShopID: 3, Name: "Wash N Fold", Address: "3 Bonifacio Rd", OperationHours: "24h", AdminID: 3},
	})

	server := stub.NewServer(store, log)
	defer server.Close()

	addr := fmt.Sprintf(":%s", cfg.Port)
	log.Info("washline stub backend starting", slog.String("addr", addr))
	if err := http.ListenAndServe(addr, server.Handler()); err != nil {
		log.Error("server failed", slog.Any("error", err))
		os.Exit(1)
	}
}
