package openmrs

import (
	"context"
	"net/http"
	"net/url"
)

// Search evaluates an ad hoc query envelope and returns its rows.
func (c *Client) Search(ctx context.Context, params any) ([]Row, error) {
	var ds DataSet
	if err := c.do(ctx, http.MethodPost, "reportingrest/adhocquery", fullView(), params, &ds); err != nil {
		return nil, err
	}
	return ds.Rows, nil
}

func (c *Client) CreateCohort(ctx context.Context, cohort Cohort) (Cohort, error) {
	var created Cohort
	err := c.do(ctx, http.MethodPost, "cohort", nil, cohort, &created)
	return created, err
}

func (c *Client) ListCohorts(ctx context.Context) ([]Cohort, error) {
	var out results[Cohort]
	if err := c.do(ctx, http.MethodGet, "cohort", fullView(), nil, &out); err != nil {
		return nil, err
	}
	return out.Results, nil
}

func (c *Client) DeleteCohort(ctx context.Context, uuid string) error {
	return c.do(ctx, http.MethodDelete, "cohort/"+url.PathEscape(uuid), nil, nil, nil)
}

func (c *Client) CohortMembers(ctx context.Context, uuid string) ([]CohortMember, error) {
	var out results[CohortMember]
	if err := c.do(ctx, http.MethodGet, "cohort/"+url.PathEscape(uuid)+"/member", fullView(), nil, &out); err != nil {
		return nil, err
	}
	return out.Results, nil
}

// CreateDefinition saves a named query as an ad hoc dataset definition.
func (c *Client) CreateDefinition(ctx context.Context, query any) (Definition, error) {
	var created Definition
	err := c.do(ctx, http.MethodPost, "reportingrest/adhocdataset", nil, query, &created)
	return created, err
}

func (c *Client) ListDefinitions(ctx context.Context) ([]Definition, error) {
	var out results[Definition]
	if err := c.do(ctx, http.MethodGet, "reportingrest/adhocdataset", fullView(), nil, &out); err != nil {
		return nil, err
	}
	return out.Results, nil
}

func (c *Client) DeleteDefinition(ctx context.Context, uuid string) error {
	return c.do(ctx, http.MethodDelete, "reportingrest/adhocdataset/"+url.PathEscape(uuid), nil, nil, nil)
}

// EvaluateDefinition runs a saved definition and returns its rows.
func (c *Client) EvaluateDefinition(ctx context.Context, uuid string) ([]Row, error) {
	var ds DataSet
	if err := c.do(ctx, http.MethodGet, "reportingrest/dataSet/"+url.PathEscape(uuid), nil, nil, &ds); err != nil {
		return nil, err
	}
	return ds.Rows, nil
}
