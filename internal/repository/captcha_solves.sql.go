package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const solveColumns = `id, user_id, api_token_id, website_url, recaptcha_key, status, cost_micros, solution, error_message, inference_time_ms, created_at, completed_at`

func scanSolve(row interface{ Scan(...any) error }) (CaptchaSolve, error) {
	var i CaptchaSolve
	err := row.Scan(&i.ID, &i.UserID, &i.ApiTokenID, &i.WebsiteUrl, &i.RecaptchaKey, &i.Status, &i.CostMicros, &i.Solution, &i.ErrorMessage, &i.InferenceTimeMs, &i.CreatedAt, &i.CompletedAt)
	return i, err
}

const createCaptchaSolve = `
INSERT INTO captcha_solves (id, user_id, api_token_id, website_url, recaptcha_key, status, cost_micros, created_at)
VALUES ($1, $2, $3, $4, $5, 'pending', $6, NOW())
RETURNING ` + solveColumns

type CreateCaptchaSolveParams struct {
	ID           pgtype.UUID
	UserID       pgtype.UUID
	ApiTokenID   pgtype.UUID
	WebsiteUrl   string
	RecaptchaKey string
	CostMicros   int64
}

func (q *Queries) CreateCaptchaSolve(ctx context.Context, arg CreateCaptchaSolveParams) (CaptchaSolve, error) {
	return scanSolve(q.db.QueryRow(ctx, createCaptchaSolve, arg.ID, arg.UserID, arg.ApiTokenID, arg.WebsiteUrl, arg.RecaptchaKey, arg.CostMicros))
}

const completeCaptchaSolve = `
UPDATE captcha_solves
SET status = $2,
    solution = $3,
    error_message = $4,
    inference_time_ms = $5,
    completed_at = NOW()
WHERE id = $1 AND status = 'pending'
RETURNING ` + solveColumns

type CompleteCaptchaSolveParams struct {
	ID              pgtype.UUID
	Status          string
	Solution        string
	ErrorMessage    string
	InferenceTimeMs pgtype.Float8
}

func (q *Queries) CompleteCaptchaSolve(ctx context.Context, arg CompleteCaptchaSolveParams) (CaptchaSolve, error) {
	return scanSolve(q.db.QueryRow(ctx, completeCaptchaSolve, arg.ID, arg.Status, arg.Solution, arg.ErrorMessage, arg.InferenceTimeMs))
}

const getCaptchaSolve = `
SELECT ` + solveColumns + `
FROM captcha_solves
WHERE id = $1 AND user_id = $2
`

type GetCaptchaSolveParams struct {
	ID     pgtype.UUID
	UserID pgtype.UUID
}

func (q *Queries) GetCaptchaSolve(ctx context.Context, arg GetCaptchaSolveParams) (CaptchaSolve, error) {
	return scanSolve(q.db.QueryRow(ctx, getCaptchaSolve, arg.ID, arg.UserID))
}

const listCaptchaSolves = `
SELECT ` + solveColumns + `
FROM captcha_solves
WHERE user_id = $1
ORDER BY created_at DESC
LIMIT $2 OFFSET $3
`

type ListCaptchaSolvesParams struct {
	UserID pgtype.UUID
	Limit  int32
	Offset int32
}

func (q *Queries) ListCaptchaSolves(ctx context.Context, arg ListCaptchaSolvesParams) ([]CaptchaSolve, error) {
	rows, err := q.db.Query(ctx, listCaptchaSolves, arg.UserID, arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []CaptchaSolve
	for rows.Next() {
		i, err := scanSolve(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const countCaptchaSolves = `SELECT COUNT(*)::bigint FROM captcha_solves WHERE user_id = $1`

func (q *Queries) CountCaptchaSolves(ctx context.Context, userID pgtype.UUID) (int64, error) {
	row := q.db.QueryRow(ctx, countCaptchaSolves, userID)
	var n int64
	err := row.Scan(&n)
	return n, err
}

const getSolveStats = `
SELECT COUNT(*)::bigint,
       COUNT(*) FILTER (WHERE status = 'success')::bigint,
       COALESCE(SUM(cost_micros) FILTER (WHERE status = 'success'), 0)::bigint,
       COALESCE(AVG(inference_time_ms) FILTER (WHERE status = 'success'), 0)::float8
FROM captcha_solves
WHERE user_id = $1
`

type GetSolveStatsRow struct {
	Total          int64
	Successful     int64
	SpentMicros    int64
	AvgInferenceMs float64
}

func (q *Queries) GetSolveStats(ctx context.Context, userID pgtype.UUID) (GetSolveStatsRow, error) {
	row := q.db.QueryRow(ctx, getSolveStats, userID)
	var i GetSolveStatsRow
	err := row.Scan(&i.Total, &i.Successful, &i.SpentMicros, &i.AvgInferenceMs)
	return i, err
}
