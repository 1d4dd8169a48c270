package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vladislavdragonenkov/catalog/internal/domain"
	"github.com/vladislavdragonenkov/catalog/internal/service/fulfillment"
)

func (h *Handler) submitOrder(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeRequest[submitOrderRequest](w, r)
	if !ok {
		return
	}

	lines := make([]domain.RequestedLine, 0, len(req.Lines))
	for _, line := range req.Lines {
		lines = append(lines, domain.RequestedLine{ItemID: line.ItemID, Quantity: line.Quantity})
	}

	order, err := h.services.Orders.Submit(r.Context(), fulfillment.Submission{
		BuyerID:         req.BuyerID,
		Lines:           lines,
		ShippingAddress: req.Address.toDomain(),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	w.Header().Set("Location", "/api/v1/orders/"+order.ID)
	writeJSON(w, http.StatusCreated, toOrderResponse(order))
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.services.Orders.GetOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

func (h *Handler) listBuyerOrders(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	orders, err := h.services.Orders.ListBuyerOrders(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	out := make([]orderResponse, 0, len(orders))
	for _, order := range orders {
		out = append(out, toOrderResponse(order))
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": out})
}
