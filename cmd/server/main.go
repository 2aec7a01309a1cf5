package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/trialworks/venire/internal/capability"
	"github.com/trialworks/venire/internal/database"
	"github.com/trialworks/venire/internal/errors"
	"github.com/trialworks/venire/internal/matching"
	"github.com/trialworks/venire/internal/monitoring"
	"github.com/trialworks/venire/internal/ratelimit"
	"github.com/trialworks/venire/internal/types"
)

func main() {
	// Structured logging setup
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// .env is optional; real deployments set the environment directly
	if err := godotenv.Load(); err == nil {
		slog.Info("Loaded configuration from .env file")
	}

	// Configuration from environment with defaults
	dataDir := getEnvOrDefault("DATA_DIR", "./data")
	port := getEnvOrDefault("PORT", "8080")

	embeddingURL := os.Getenv("EMBEDDING_URL")
	embeddingKey := os.Getenv("EMBEDDING_API_KEY")
	embeddingModel := getEnvOrDefault("EMBEDDING_MODEL", "text-embedding-3-small")

	generationURL := os.Getenv("GENERATION_URL")
	generationKey := os.Getenv("GENERATION_API_KEY")
	generationModel := getEnvOrDefault("GENERATION_MODEL", "gpt-4o-mini")

	redisAddr := os.Getenv("REDIS_ADDR")
	redisPassword := os.Getenv("REDIS_PASSWORD")
	redisDB := getEnvIntOrDefault("REDIS_DB", 0)

	// Initialize database and repository
	db, err := database.NewDB(dataDir)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer errors.SafeClose(db, "database")

	repo := database.NewRepository(db)

	// Capability backends degrade rather than block startup: without an
	// embedding backend the ensemble still runs on signal and Bayesian
	// methods, and without generation it falls back to template text.
	var embedder capability.Embedder
	if embeddingURL != "" {
		embedder = capability.NewHTTPEmbedder(embeddingURL, embeddingKey, embeddingModel)
	} else {
		slog.Warn("EMBEDDING_URL not configured, embedding scores will be neutral")
	}

	var generator capability.Generator
	if generationURL != "" {
		generator = capability.NewHTTPGenerator(generationURL, generationKey, generationModel)
	} else {
		slog.Warn("GENERATION_URL not configured, using template rationales and questions")
	}

	matcher := matching.NewMatcher(repo, embedder, generator)
	questionGen := matching.NewQuestionGenerator(repo, matcher, generator)

	// Initialize monitoring system
	appMetrics := monitoring.NewMetrics()
	appLogger := monitoring.NewLogger()

	// Initialize rate limiting with Redis and in-memory fallback
	redisClient, err := ratelimit.NewRedisClient(redisAddr, redisPassword, redisDB)
	if err != nil {
		slog.Warn("Redis connection failed, continuing with in-memory rate limiting", "error", err)
	}
	defer errors.SafeClose(redisClient, "redis client")

	limiter := ratelimit.NewRateLimiter(redisClient, ratelimit.DefaultConfig(), appMetrics)

	r := gin.New()

	// CORS for the research tool frontends
	corsConfig := cors.DefaultConfig()
	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		corsConfig.AllowOrigins = strings.Split(origins, ",")
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowHeaders = append(corsConfig.AllowHeaders, "Authorization")
	r.Use(cors.New(corsConfig))

	r.Use(monitoring.MonitoringMiddleware(appMetrics, appLogger))
	r.Use(errors.ErrorHandler())
	r.Use(errors.RecoveryHandler())
	r.Use(limiter.IPRateLimitMiddleware())

	r.GET("/health", func(c *gin.Context) {
		health := gin.H{
			"status":    "ok",
			"timestamp": time.Now().Format(time.RFC3339),
			"version":   "1.0.0",
			"capabilities": gin.H{
				"embedding":  embedder != nil,
				"generation": generator != nil,
			},
			"rate_limiter": limiter.GetStats(),
		}

		if err := db.PingContext(c.Request.Context()); err != nil {
			health["status"] = "degraded"
			health["database_error"] = err.Error()
			c.JSON(http.StatusServiceUnavailable, health)
			return
		}

		c.JSON(http.StatusOK, health)
	})

	r.GET("/metrics", func(c *gin.Context) {
		c.JSON(http.StatusOK, appMetrics.GetStats())
	})

	api := r.Group("/api")

	// --- catalog ingestion ---

	api.POST("/signals", func(c *gin.Context) {
		var req struct {
			ID       string `json:"id" binding:"required"`
			Name     string `json:"name" binding:"required"`
			Category string `json:"category" binding:"required"`
			Kind     int    `json:"kind"`
		}
		if err := c.BindJSON(&req); err != nil {
			writeError(c, errors.ToAppError(err))
			return
		}

		signal := types.Signal{
			ID:       req.ID,
			Name:     req.Name,
			Category: types.SignalCategory(req.Category),
			Kind:     types.SignalValueKind(req.Kind),
		}
		if err := repo.CreateSignal(c.Request.Context(), signal); err != nil {
			writeError(c, errors.ToAppError(err))
			return
		}

		c.JSON(http.StatusCreated, signal)
	})

	api.GET("/signals", func(c *gin.Context) {
		signals, err := repo.ListSignals(c.Request.Context())
		if err != nil {
			writeError(c, errors.ToAppError(err))
			return
		}
		c.JSON(http.StatusOK, gin.H{"signals": signals})
	})

	api.POST("/personas", func(c *gin.Context) {
		var persona types.Persona
		if err := c.BindJSON(&persona); err != nil {
			writeError(c, errors.ToAppError(err))
			return
		}
		if persona.Name == "" || persona.Description == "" {
			writeError(c, errors.NewValidationError("persona name and description are required"))
			return
		}
		if persona.ID == "" {
			persona.ID = uuid.New().String()
		}

		if err := repo.CreatePersona(c.Request.Context(), persona); err != nil {
			writeError(c, errors.ToAppError(err))
			return
		}

		// A new or changed description invalidates any cached embedding
		matcher.Embeddings().InvalidatePersona(persona.ID)

		c.JSON(http.StatusCreated, persona)
	})

	api.POST("/personas/:id/weights", func(c *gin.Context) {
		var req struct {
			SignalID  string  `json:"signal_id" binding:"required"`
			Weight    float64 `json:"weight"`
			Direction string  `json:"direction" binding:"required"`
		}
		if err := c.BindJSON(&req); err != nil {
			writeError(c, errors.ToAppError(err))
			return
		}
		if req.Weight < 0 || req.Weight > 1 {
			writeError(c, errors.NewValidationError("weight must be in [0,1]"))
			return
		}
		direction := types.WeightDirection(req.Direction)
		if direction != types.DirectionPositive && direction != types.DirectionNegative {
			writeError(c, errors.NewValidationError("direction must be POSITIVE or NEGATIVE"))
			return
		}

		weight := types.PersonaSignalWeight{
			PersonaID: c.Param("id"),
			SignalID:  req.SignalID,
			Weight:    req.Weight,
			Direction: direction,
		}
		if err := repo.SetPersonaSignalWeight(c.Request.Context(), weight); err != nil {
			writeError(c, errors.ToAppError(err))
			return
		}

		c.JSON(http.StatusOK, weight)
	})

	// --- juror ingestion ---

	api.POST("/jurors", func(c *gin.Context) {
		var juror types.Juror
		if err := c.BindJSON(&juror); err != nil {
			writeError(c, errors.ToAppError(err))
			return
		}
		if juror.CaseID == "" {
			writeError(c, errors.NewValidationError("case_id is required"))
			return
		}
		if juror.ID == "" {
			juror.ID = uuid.New().String()
		}

		if err := repo.CreateJuror(c.Request.Context(), juror); err != nil {
			writeError(c, errors.ToAppError(err))
			return
		}

		c.JSON(http.StatusCreated, juror)
	})

	api.POST("/jurors/:id/signals", func(c *gin.Context) {
		jurorID := c.Param("id")

		var req struct {
			SignalID string            `json:"signal_id" binding:"required"`
			Value    types.SignalValue `json:"value"`
			Source   string            `json:"source"`
		}
		if err := c.BindJSON(&req); err != nil {
			writeError(c, errors.ToAppError(err))
			return
		}

		js := types.JurorSignal{
			JurorID:    jurorID,
			SignalID:   req.SignalID,
			Value:      req.Value,
			Source:     req.Source,
			ObservedAt: time.Now(),
		}
		if err := repo.AddJurorSignal(c.Request.Context(), js); err != nil {
			writeError(c, errors.ToAppError(err))
			return
		}

		// New evidence invalidates the cached narrative embedding
		matcher.Embeddings().InvalidateJuror(jurorID)

		c.JSON(http.StatusCreated, js)
	})

	api.POST("/jurors/:id/artifacts", func(c *gin.Context) {
		jurorID := c.Param("id")

		var req struct {
			Summary string `json:"summary" binding:"required"`
			Source  string `json:"source"`
		}
		if err := c.BindJSON(&req); err != nil {
			writeError(c, errors.ToAppError(err))
			return
		}

		artifact := types.ResearchArtifact{
			JurorID: jurorID,
			Summary: req.Summary,
			Source:  req.Source,
		}
		if err := repo.AddResearchArtifact(c.Request.Context(), artifact); err != nil {
			writeError(c, errors.ToAppError(err))
			return
		}

		matcher.Embeddings().InvalidateJuror(jurorID)

		c.JSON(http.StatusCreated, gin.H{"status": "recorded"})
	})

	api.POST("/jurors/:id/voir-dire", func(c *gin.Context) {
		jurorID := c.Param("id")

		var req struct {
			Question string `json:"question" binding:"required"`
			Answer   string `json:"answer"`
		}
		if err := c.BindJSON(&req); err != nil {
			writeError(c, errors.ToAppError(err))
			return
		}

		entry := types.VoirDireEntry{
			JurorID:  jurorID,
			Question: req.Question,
			Answer:   req.Answer,
			AskedAt:  time.Now(),
		}
		if err := repo.AddVoirDireEntry(c.Request.Context(), entry); err != nil {
			writeError(c, errors.ToAppError(err))
			return
		}

		matcher.Embeddings().InvalidateJuror(jurorID)

		c.JSON(http.StatusCreated, gin.H{"status": "recorded"})
	})

	// --- matching and question generation ---
	// These fan out to the capability backends, so they carry a tighter
	// per-IP limit than the ingestion endpoints.

	matchAPI := api.Group("")
	matchAPI.Use(limiter.MatchRateLimitMiddleware())

	matchAPI.POST("/jurors/:id/match", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 60*time.Second)
		defer cancel()

		jurorID := c.Param("id")
		start := time.Now()

		personaIDs, err := repo.ListPersonaIDs(ctx)
		if err != nil {
			writeError(c, errors.ToAppError(err))
			return
		}
		if len(personaIDs) == 0 {
			writeError(c, errors.NewValidationError("no personas defined"))
			return
		}

		matches, err := matcher.MatchJuror(ctx, jurorID, personaIDs)
		if err != nil {
			writeError(c, errors.ToAppError(err))
			return
		}

		appMetrics.IncrementMatches()
		if len(matches) > 0 {
			appLogger.MatchLogger(jurorID, len(personaIDs), matches[0].PersonaName,
				matches[0].Probability, matches[0].Confidence, time.Since(start))
		}

		// Persist rankings so future Bayesian passes start from them
		persistMappings(ctx, repo, jurorID, matches)

		c.JSON(http.StatusOK, gin.H{
			"juror_id": jurorID,
			"matches":  renderMatches(matches),
		})
	})

	matchAPI.POST("/jurors/:id/questions", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 60*time.Second)
		defer cancel()

		jurorID := c.Param("id")
		start := time.Now()

		questions, err := questionGen.GenerateForJuror(ctx, jurorID)
		if err != nil {
			writeError(c, errors.ToAppError(err))
			return
		}

		for range questions {
			appMetrics.IncrementQuestions()
		}
		appLogger.QuestionLogger("juror", jurorID, len(questions), time.Since(start))

		c.JSON(http.StatusOK, gin.H{
			"juror_id":  jurorID,
			"questions": questions,
		})
	})

	matchAPI.POST("/cases/:id/panel-questions", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 120*time.Second)
		defer cancel()

		caseID := c.Param("id")
		start := time.Now()

		questions, err := questionGen.GenerateForPanel(ctx, caseID)
		if err != nil {
			writeError(c, errors.ToAppError(err))
			return
		}

		for range questions {
			appMetrics.IncrementQuestions()
		}
		appLogger.QuestionLogger("panel", caseID, len(questions), time.Since(start))

		c.JSON(http.StatusOK, gin.H{
			"case_id":   caseID,
			"questions": questions,
		})
	})

	api.GET("/jurors/:id/mappings", func(c *gin.Context) {
		mappings, err := repo.MappingsForJuror(c.Request.Context(), c.Param("id"))
		if err != nil {
			writeError(c, errors.ToAppError(err))
			return
		}
		c.JSON(http.StatusOK, gin.H{"mappings": mappings})
	})

	api.POST("/mappings/:id/confirm", func(c *gin.Context) {
		mappingID := c.Param("id")

		if err := repo.ConfirmMapping(c.Request.Context(), mappingID); err != nil {
			writeError(c, errors.ToAppError(err))
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"mapping_id": mappingID,
			"confirmed":  true,
		})
	})

	// Start server with graceful shutdown
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}

	go func() {
		slog.Info("Starting server", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server exited")
}

// persistMappings saves the ranked results so the next Bayesian pass can use
// them as priors. A save failure is logged, never surfaced: the match result
// already computed is still valid.
func persistMappings(ctx context.Context, repo *database.Repository, jurorID string, matches []matching.EnsembleMatch) {
	for i, m := range matches {
		mapping := types.JurorPersonaMapping{
			JurorID:    jurorID,
			PersonaID:  m.PersonaID,
			Confidence: m.Probability,
			Rank:       i + 1,
		}

		if detail, ok := m.Detail.(matching.WithExplanation); ok {
			mapping.Rationale = detail.Rationale
			mapping.Counterfactual = detail.Counterfactual
		}

		if _, err := repo.SaveMapping(ctx, mapping); err != nil {
			slog.Error("Failed to persist mapping",
				"juror_id", jurorID, "persona_id", m.PersonaID, "error", err)
		}
	}
}

// matchView is the wire shape for one ranked match.
type matchView struct {
	PersonaID      string                 `json:"persona_id"`
	PersonaName    string                 `json:"persona_name"`
	Probability    float64                `json:"probability"`
	Confidence     float64                `json:"confidence"`
	Methods        map[string]interface{} `json:"methods"`
	Rationale      string                 `json:"rationale,omitempty"`
	Counterfactual string                 `json:"counterfactual,omitempty"`
	Summary        string                 `json:"summary,omitempty"`
}

func renderMatches(matches []matching.EnsembleMatch) []matchView {
	views := make([]matchView, 0, len(matches))
	for _, m := range matches {
		view := matchView{
			PersonaID:   m.PersonaID,
			PersonaName: m.PersonaName,
			Probability: m.Probability,
			Confidence:  m.Confidence,
			Methods: map[string]interface{}{
				"signal": gin.H{
					"score":      m.SignalScore.Score,
					"confidence": m.SignalScore.Confidence,
					"weight":     m.Weights.Signal,
				},
				"embedding": gin.H{
					"score":      m.EmbeddingScore.Score,
					"confidence": m.EmbeddingScore.Confidence,
					"weight":     m.Weights.Embedding,
				},
				"bayesian": gin.H{
					"score":      m.BayesianScore,
					"confidence": m.BayesConfidence,
					"weight":     m.Weights.Bayesian,
				},
			},
		}

		switch detail := m.Detail.(type) {
		case matching.WithExplanation:
			view.Rationale = detail.Rationale
			view.Counterfactual = detail.Counterfactual
		case matching.ScoreOnly:
			view.Summary = detail.Placeholder
		}

		views = append(views, view)
	}
	return views
}

func writeError(c *gin.Context, appErr *errors.AppError) {
	errors.LogError(c, appErr)
	c.JSON(appErr.HTTPStatus, appErr)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}
