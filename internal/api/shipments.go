package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kalambet/freightdocs/internal/auth"
	"github.com/kalambet/freightdocs/internal/documents"
	"github.com/kalambet/freightdocs/internal/storage"
)

const maxShipmentBodySize = 64 << 10

type createShipmentRequest struct {
	ShipmentNumber   string `json:"shipment_number"`
	SupplierID       string `json:"supplier_id"`
	OriginPort       string `json:"origin_port"`
	DestinationPort  string `json:"destination_port"`
	GoodsDescription string `json:"goods_description"`
	HSCode           string `json:"hs_code"`
}

func handleCreateShipment(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := caller(r, auth.Role.CanEditShipments)
		if err != nil {
			writeError(w, r, err)
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxShipmentBodySize)
		defer r.Body.Close()

		var req createShipmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, invalidInput("body", "invalid request body: %v", err))
			return
		}
		req.ShipmentNumber = strings.TrimSpace(req.ShipmentNumber)
		if req.ShipmentNumber == "" {
			writeError(w, r, invalidInput("shipment_number", "shipment_number is required"))
			return
		}
		// Suppliers own the shipments they create.
		if req.SupplierID == "" || c.Role == auth.RoleSupplier {
			req.SupplierID = c.UserID
		}

		sh := storage.Shipment{
			ID:               uuid.New().String(),
			ShipmentNumber:   req.ShipmentNumber,
			SupplierID:       req.SupplierID,
			OriginPort:       req.OriginPort,
			DestinationPort:  req.DestinationPort,
			GoodsDescription: req.GoodsDescription,
			HSCode:           req.HSCode,
		}
		if err := deps.Shipments.CreateShipment(r.Context(), sh); err != nil {
			if errors.Is(err, storage.ErrDuplicateShipment) {
				writeError(w, r, invalidInput("shipment_number", "shipment number %q already exists", sh.ShipmentNumber))
				return
			}
			writeError(w, r, fmt.Errorf("creating shipment: %w: %w", documents.ErrUnavailable, err))
			return
		}

		created, err := deps.Shipments.GetShipment(r.Context(), sh.ID)
		if err != nil {
			writeError(w, r, fmt.Errorf("reading shipment: %w: %w", documents.ErrUnavailable, err))
			return
		}
		writeJSON(w, http.StatusCreated, created)
	}
}

func handleGetShipment(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		sh, err := deps.Shipments.GetShipment(r.Context(), id)
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, fmt.Errorf("shipment %s: %w", id, documents.ErrNotFound))
			return
		}
		if err != nil {
			writeError(w, r, fmt.Errorf("reading shipment: %w: %w", documents.ErrUnavailable, err))
			return
		}
		writeJSON(w, http.StatusOK, sh)
	}
}
