package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vladislavdragonenkov/catalog/internal/domain"
	"github.com/vladislavdragonenkov/catalog/internal/service/catalog"
)

func (h *Handler) listCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.services.Catalog.ListCategories(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]domain.CategorySnapshot, 0, len(categories))
	for _, c := range categories {
		out = append(out, c.Snapshot())
	}
	writeJSON(w, http.StatusOK, map[string]any{"categories": out})
}

func (h *Handler) getCategory(w http.ResponseWriter, r *http.Request) {
	category, err := h.services.Catalog.GetCategory(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, category.Snapshot())
}

func (h *Handler) createCategory(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeRequest[createCategoryRequest](w, r)
	if !ok {
		return
	}
	category, err := h.services.Catalog.CreateCategory(r.Context(), req.Name, req.Description)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, category.Snapshot())
}

func (h *Handler) updateCategory(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeRequest[updateCategoryRequest](w, r)
	if !ok {
		return
	}
	category, err := h.services.Catalog.UpdateCategory(r.Context(), chi.URLParam(r, "name"), req.Description)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, category.Snapshot())
}

func (h *Handler) deleteCategory(w http.ResponseWriter, r *http.Request) {
	category, err := h.services.Catalog.DeleteCategory(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, category.Snapshot())
}

func (h *Handler) listItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.services.Catalog.ListItems(r.Context(), r.URL.Query().Get("category"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]itemResponse, 0, len(items))
	for _, item := range items {
		out = append(out, toItemResponse(item))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out})
}

func (h *Handler) getItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.services.Catalog.GetItem(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toItemResponse(item))
}

func (h *Handler) createItem(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeRequest[createItemRequest](w, r)
	if !ok {
		return
	}
	input, err := itemInput(req.fields())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	item, err := h.services.Catalog.CreateItem(r.Context(), input, req.Stock)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/v1/items/"+item.ID)
	writeJSON(w, http.StatusCreated, toItemResponse(item))
}

func (h *Handler) updateItem(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeRequest[itemRequest](w, r)
	if !ok {
		return
	}
	input, err := itemInput(*req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	item, err := h.services.Catalog.UpdateItem(r.Context(), chi.URLParam(r, "id"), input)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toItemResponse(item))
}

func (h *Handler) restockItem(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeRequest[restockRequest](w, r)
	if !ok {
		return
	}
	item, err := h.services.Catalog.Restock(r.Context(), chi.URLParam(r, "id"), req.Quantity)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toItemResponse(item))
}

func (h *Handler) deleteItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.services.Catalog.DeleteItem(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toItemResponse(item))
}

func itemInput(req itemRequest) (catalog.ItemInput, error) {
	price, err := priceToMinor(*req.Price)
	if err != nil {
		return catalog.ItemInput{}, err
	}
	releaseDate, err := parseReleaseDate(req.ReleaseDate)
	if err != nil {
		return catalog.ItemInput{}, err
	}
	return catalog.ItemInput{
		Name:         req.Name,
		CategoryName: req.Category,
		PriceMinor:   price,
		ReleaseDate:  releaseDate,
	}, nil
}
