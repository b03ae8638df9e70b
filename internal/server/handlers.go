package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/dinedir/restaurants"
)

// statusClientClosedRequest reports a request abandoned by its client. It
// is not a server error.
const statusClientClosedRequest = 499

type handlers struct {
	dir    Directory
	info   Info
	logger *zap.Logger
}

// restaurantView is the wire form of a restaurant.
type restaurantView struct {
	Name    string  `json:"name"`
	Cuisine string  `json:"cuisine"`
	Rating  float64 `json:"rating"`
	Region  string  `json:"region"`
}

func viewOf(r restaurants.Restaurant) restaurantView {
	return restaurantView{Name: r.Name, Cuisine: r.Cuisine, Rating: r.Rating, Region: r.Region}
}

type createRequest struct {
	Name    string   `json:"name"`
	Cuisine string   `json:"cuisine"`
	Region  string   `json:"region"`
	Rating  *float64 `json:"rating"`
}

type rateRequest struct {
	Name   string   `json:"name"`
	Rating *float64 `json:"rating"`
}

func (h *handlers) root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, h.info)
}

func (h *handlers) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handlers) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.Name == "" || req.Cuisine == "" || req.Region == "" {
		writeError(w, r, http.StatusBadRequest, "Some fields are missing")
		return
	}

	_, err := h.dir.Create(r.Context(), restaurants.NewRestaurant{
		Name:    req.Name,
		Cuisine: req.Cuisine,
		Region:  req.Region,
		Rating:  req.Rating,
	})
	if err != nil {
		h.fail(w, r, err, "Restaurant not found")
		return
	}
	writeSuccess(w, r)
}

func (h *handlers) get(w http.ResponseWriter, r *http.Request) {
	rest, err := h.dir.Get(r.Context(), r.PathValue("name"))
	if err != nil {
		h.fail(w, r, err, "Restaurant not found")
		return
	}
	writeJSON(w, r, http.StatusOK, viewOf(*rest))
}

func (h *handlers) delete(w http.ResponseWriter, r *http.Request) {
	if err := h.dir.Delete(r.Context(), r.PathValue("name")); err != nil {
		h.fail(w, r, err, "No such restaurant exists to delete")
		return
	}
	writeSuccess(w, r)
}

func (h *handlers) rate(w http.ResponseWriter, r *http.Request) {
	var req rateRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.Name == "" || req.Rating == nil {
		writeError(w, r, http.StatusBadRequest, "name and rating are required")
		return
	}

	if _, err := h.dir.Rate(r.Context(), req.Name, *req.Rating); err != nil {
		h.fail(w, r, err, "Restaurant not found")
		return
	}
	writeSuccess(w, r)
}

func (h *handlers) listByCuisine(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, restaurants.ByCuisine(r.PathValue("cuisine")),
		"No restaurants found for this cuisine")
}

func (h *handlers) listByRegion(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, restaurants.ByRegion(r.PathValue("region")),
		"No restaurants found for this region")
}

func (h *handlers) listByRegionAndCuisine(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, restaurants.ByRegionAndCuisine(r.PathValue("region"), r.PathValue("cuisine")),
		"No restaurants found for the specified region, cuisine, and rating")
}

func (h *handlers) list(w http.ResponseWriter, r *http.Request, q restaurants.ListQuery, notFound string) {
	params := r.URL.Query()

	if s := params.Get("limit"); s != "" {
		limit, err := strconv.Atoi(s)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "limit must be an integer")
			return
		}
		q = q.WithLimit(limit)
	}
	if s := params.Get("minRating"); s != "" {
		minRating, err := strconv.ParseFloat(s, 64)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "minRating must be a number")
			return
		}
		q = q.WithMinRating(minRating)
	}

	list, err := h.dir.List(r.Context(), q)
	if err != nil {
		h.fail(w, r, err, notFound)
		return
	}

	views := make([]restaurantView, len(list))
	for i, rest := range list {
		views[i] = viewOf(rest)
	}
	writeJSON(w, r, http.StatusOK, views)
}

// fail maps a directory error to its status code and writes it.
func (h *handlers) fail(w http.ResponseWriter, r *http.Request, err error, notFound string) {
	switch {
	case errors.Is(err, restaurants.ErrInvalidArgument):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, restaurants.ErrNotFound):
		writeError(w, r, http.StatusNotFound, notFound)
	case errors.Is(err, restaurants.ErrAlreadyExists):
		writeError(w, r, http.StatusConflict, "Restaurant already exists")
	case errors.Is(err, context.Canceled) && r.Context().Err() != nil:
		h.logger.Debug("client went away",
			zap.String("path", r.URL.Path),
			zap.String("request_id", RequestIDFromContext(r.Context())),
		)
		writeError(w, r, statusClientClosedRequest, "Client Closed Request")
	default:
		h.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", RequestIDFromContext(r.Context())),
			zap.Error(err),
		)
		writeError(w, r, http.StatusInternalServerError, "Internal Server Error")
	}
}

func decodeBody(r *http.Request, v any) error {
	if r.Body == nil {
		return errors.New("request body is required")
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return errors.New("request body too large")
		}
		return errors.New("malformed JSON body")
	}
	return nil
}
