package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"AIWeb3-Agents/sdk/go/toolsclient"
)

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("/transfer/balance", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Address string `json:"address"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		_ = json.NewEncoder(w).Encode(toolsclient.Balance{Address: req.Address, Balance: "1000000000000000000"})
	})
	mux.HandleFunc("/transfer/simulate", func(w http.ResponseWriter, r *http.Request) {
		gas := uint64(21000)
		_ = json.NewEncoder(w).Encode(toolsclient.Simulation{OK: true, EstimatedGas: &gas})
	})
	mux.HandleFunc("/transfer/send", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_ = json.NewEncoder(w).Encode(toolsclient.APIError{
			Code:    "POLICY_VIOLATION",
			Message: "value 2000 exceeds max_value 1000",
			Reason:  "exceeds_max",
		})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, err := toolsclient.NewClient(srv.URL, srv.Client())
	if err != nil {
		panic(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	const to = "0x00000000000000000000000000000000000000aa"
	balance, err := client.Balance(ctx, to)
	if err != nil {
		panic(err)
	}
	fmt.Printf("balance of %s: %s wei\n", balance.Address, balance.Balance)

	sim, err := client.Simulate(ctx, to, "2000")
	if err != nil {
		panic(err)
	}
	fmt.Printf("simulation ok=%v gas=%d\n", sim.OK, *sim.EstimatedGas)

	if _, err := client.Send(ctx, to, "2000", ""); err != nil {
		fmt.Printf("send rejected: %v\n", err)
	}
}
