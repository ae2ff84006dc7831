package entities

import (
	"context"
	"net/http"
	"strconv"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/internal/repositories/alias"
	"github.com/Ramsey-B/fern/internal/repositories/entitylink"
	"github.com/Ramsey-B/fern/internal/repositories/person"
	"github.com/Ramsey-B/fern/internal/repositories/place"
	"github.com/Ramsey-B/fern/pkg/merging"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Register registers canonical entity routes
func Register(g *echo.Group) {
	g.GET("/persons", ListPersons)
	g.GET("/persons/:id", GetPerson)
	g.GET("/persons/:id/links", ListPersonLinks)
	g.GET("/places", ListPlaces)
	g.GET("/places/:id", GetPlace)
	g.GET("/places/:id/links", ListPlaceLinks)
}

// ListPersons lists canonical persons. Superseded rows never appear here.
func ListPersons(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "entities.ListPersons")
	defer span.End()

	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	offset, _ := strconv.Atoi(c.QueryParam("offset"))

	ctx, repo, err := ectoinject.GetContext[*person.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	persons, err := repo.ListCanonical(ctx, c.QueryParam("search"), limit, offset)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, persons)
}

// GetPerson returns the person view: the canonical row, its full alias
// history, and how many source records point at it. A superseded id is
// followed to its canonical head first.
func GetPerson(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "entities.GetPerson")
	defer span.End()

	ctx, merger, err := ectoinject.GetContext[*merging.Engine](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	id, err := merger.ResolveCanonical(ctx, models.EntityTypePerson, c.Param("id"))
	if err != nil {
		return err
	}

	ctx, repo, err := ectoinject.GetContext[*person.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}
	p, err := repo.Get(ctx, id)
	if err != nil {
		return err
	}

	aliases, linkCount, err := entityDetails(ctx, models.EntityTypePerson, id)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, models.PersonView{
		Person:            *p,
		Aliases:           aliases,
		LinkedSourceCount: linkCount,
	})
}

// ListPersonLinks lists the active source links for a person
func ListPersonLinks(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "entities.ListPersonLinks")
	defer span.End()

	return listLinks(c, ctx, models.EntityTypePerson)
}

// ListPlaces lists canonical places with an optional kind filter
func ListPlaces(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "entities.ListPlaces")
	defer span.End()

	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	offset, _ := strconv.Atoi(c.QueryParam("offset"))

	ctx, repo, err := ectoinject.GetContext[*place.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	places, err := repo.ListCanonical(ctx, c.QueryParam("search"), models.PlaceKind(c.QueryParam("kind")), limit, offset)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, places)
}

// GetPlace returns the place view
func GetPlace(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "entities.GetPlace")
	defer span.End()

	ctx, merger, err := ectoinject.GetContext[*merging.Engine](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	id, err := merger.ResolveCanonical(ctx, models.EntityTypePlace, c.Param("id"))
	if err != nil {
		return err
	}

	ctx, repo, err := ectoinject.GetContext[*place.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}
	p, err := repo.Get(ctx, id)
	if err != nil {
		return err
	}

	aliases, linkCount, err := entityDetails(ctx, models.EntityTypePlace, id)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, models.PlaceView{
		Place:             *p,
		Aliases:           aliases,
		LinkedSourceCount: linkCount,
	})
}

// ListPlaceLinks lists the active source links for a place
func ListPlaceLinks(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "entities.ListPlaceLinks")
	defer span.End()

	return listLinks(c, ctx, models.EntityTypePlace)
}

func entityDetails(ctx context.Context, entityType models.EntityType, id string) ([]models.Alias, int, error) {
	ctx, aliasRepo, err := ectoinject.GetContext[*alias.Repository](ctx)
	if err != nil {
		return nil, 0, httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}
	aliases, err := aliasRepo.ListByEntity(ctx, entityType, id)
	if err != nil {
		return nil, 0, err
	}

	ctx, linkRepo, err := ectoinject.GetContext[*entitylink.Repository](ctx)
	if err != nil {
		return nil, 0, httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}
	count, err := linkRepo.CountActiveByEntity(ctx, entityType, id)
	if err != nil {
		return nil, 0, err
	}

	return aliases, count, nil
}

func listLinks(c echo.Context, ctx context.Context, entityType models.EntityType) error {
	ctx, linkRepo, err := ectoinject.GetContext[*entitylink.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	links, err := linkRepo.ListActiveByEntity(ctx, entityType, c.Param("id"))
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, links)
}
