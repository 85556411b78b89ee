package handler

import (
	"net/http"

	"github.com/boddenberg/bankfeed-sync/internal/domain"
	"github.com/boddenberg/bankfeed-sync/internal/service"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// Category Handlers
// ============================================================

func listCategoriesHandler(svc *service.CategoryService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/categories")
		defer span.End()

		cats, err := svc.ListCategories(ctx)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, domain.ListResponse[domain.Category]{Data: cats, Total: len(cats)})
	}
}

func listGroupsHandler(svc *service.CategoryService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/categories/groups")
		defer span.End()

		groups, err := svc.ListGroups(ctx)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, domain.ListResponse[domain.CategoryGroup]{Data: groups, Total: len(groups)})
	}
}

type makeCategoryRequest struct {
	Group string `json:"group"`
	Name  string `json:"name"`
}

func makeCategoryHandler(svc *service.CategoryService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/categories")
		defer span.End()

		var req makeCategoryRequest
		if err := decodeBody(r, &req); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		cat, err := svc.MakeCategory(ctx, req.Group, req.Name)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, cat)
	}
}

type updateCategoryRequest struct {
	Name  string `json:"name,omitempty"`
	Group string `json:"group,omitempty"`
}

// updateCategoryHandler renames a category and/or moves it to another group.
func updateCategoryHandler(svc *service.CategoryService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "PATCH /v1/categories/{categoryId}")
		defer span.End()

		id := chi.URLParam(r, "categoryId")
		span.SetAttributes(attribute.String("category.id", id))

		var req updateCategoryRequest
		if err := decodeBody(r, &req); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		if req.Name == "" && req.Group == "" {
			writeError(w, http.StatusBadRequest, "name or group is required")
			return
		}

		var (
			cat *domain.Category
			err error
		)
		if req.Name != "" {
			if cat, err = svc.RenameCategory(ctx, id, req.Name); err != nil {
				handleServiceError(w, err, logger)
				return
			}
		}
		if req.Group != "" {
			if cat, err = svc.ChangeCategoryGroup(ctx, id, req.Group); err != nil {
				handleServiceError(w, err, logger)
				return
			}
		}
		writeJSON(w, http.StatusOK, cat)
	}
}

func deleteCategoryHandler(svc *service.CategoryService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "DELETE /v1/categories/{categoryId}")
		defer span.End()

		id := chi.URLParam(r, "categoryId")
		if err := svc.DeleteCategory(ctx, id); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, domain.SuccessResponse{Message: "category deleted", ID: id})
	}
}

func initCategoriesHandler(svc *service.CategoryService, groups map[string][]string, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/categories/init")
		defer span.End()

		cats, err := svc.InitialiseCategoriesFromConfig(ctx, groups, queryBool(r, "force"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, domain.ListResponse[domain.Category]{Data: cats, Total: len(cats)})
	}
}

// ============================================================
// Category map
// ============================================================

func listAssignmentsHandler(svc *service.CategoryService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/categories/assignments")
		defer span.End()

		entries, err := svc.ListAssignments(ctx)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, domain.ListResponse[domain.CategoryMapEntry]{Data: entries, Total: len(entries)})
	}
}

type assignCategoryRequest struct {
	Kind       domain.MatchKind `json:"kind"`
	Pattern    string           `json:"pattern"`
	CategoryID string           `json:"category_id"`
}

func assignCategoryHandler(svc *service.CategoryService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "PUT /v1/categories/assignments")
		defer span.End()

		var req assignCategoryRequest
		if err := decodeBody(r, &req); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		entry, err := svc.AssignCategory(ctx, req.Kind, req.Pattern, req.CategoryID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, entry)
	}
}

func unassignCategoryHandler(svc *service.CategoryService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "DELETE /v1/categories/assignments")
		defer span.End()

		q := r.URL.Query()
		if err := svc.UnassignCategory(ctx, domain.MatchKind(q.Get("kind")), q.Get("pattern")); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, domain.SuccessResponse{Message: "category assignment removed"})
	}
}
