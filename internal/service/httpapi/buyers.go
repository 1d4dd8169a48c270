package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vladislavdragonenkov/catalog/internal/service/buyer"
)

func (h *Handler) registerBuyer(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeRequest[registerBuyerRequest](w, r)
	if !ok {
		return
	}

	registered, err := h.services.Buyers.Register(r.Context(), buyer.Registration{
		FullName: req.FullName,
		Email:    req.Email,
		Phone:    req.Phone,
		Address:  req.Address.toDomain(),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	w.Header().Set("Location", "/api/v1/buyers/"+registered.ID)
	writeJSON(w, http.StatusCreated, toBuyerResponse(registered))
}

func (h *Handler) getBuyer(w http.ResponseWriter, r *http.Request) {
	found, err := h.services.Buyers.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBuyerResponse(found))
}
