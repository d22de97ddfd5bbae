package phases

import (
	"context"
	"sort"
	"strings"

	"github.com/taskloop-dev/taskloop/internal/model"
	"github.com/taskloop-dev/taskloop/internal/pipeline"
)

// Keyword family weights for complexity scoring.
const (
	weightSimple       = 1
	weightStandard     = 2
	weightComplex      = 4
	weightCritical     = 6
	weightMultiService = 4
	weightIntegration  = 2
	weightInfra        = 3
)

// Tier thresholds on the summed score.
const (
	thresholdCritical = 14
	thresholdComplex  = 8
	thresholdStandard = 4
)

var simpleKeywords = []string{"typo", "rename", "comment", "readme", "bump", "tweak", "wording"}
var standardKeywords = []string{"endpoint", "feature", "field", "button", "validation", "handler", "test"}
var complexKeywords = []string{"migrate", "migration", "architecture", "concurrency", "distributed", "performance", "refactor", "pipeline", "protocol"}
var criticalKeywords = []string{"schema", "auth", "authentication", "authorization", "payment", "security", "production", "encryption", "data loss"}
var multiServiceKeywords = []string{"across services", "multiple services", "monorepo", "all services", "cross-service"}

var infrastructureKeywords = []string{"deploy", "kubernetes", "docker", "terraform", "helm", "infrastructure", "provision", "ci/cd"}

// integrationKeywords maps each external integration family to the words
// that imply it. Families overlap with the complexity keyword sets above;
// the overlap is intentional, both scorers read the same vocabulary.
var integrationKeywords = map[model.ExternalIntegration][]string{
	model.IntegrationGraphQL:   {"graphql"},
	model.IntegrationPayments:  {"payment", "stripe", "billing", "invoice"},
	model.IntegrationAuth:      {"auth", "oauth", "login", "sso", "jwt"},
	model.IntegrationCloud:     {"aws", "gcp", "azure", "s3", "lambda", "cloud"},
	model.IntegrationCache:     {"redis", "memcached", "cache"},
	model.IntegrationDatabase:  {"postgres", "mysql", "sqlite", "database", "sql", "mongodb", "schema"},
	model.IntegrationSearch:    {"elasticsearch", "opensearch", "solr", "search index"},
	model.IntegrationQueue:     {"sqs", "rabbitmq", "queue", "celery"},
	model.IntegrationContainer: {"kubernetes", "docker", "container", "k8s", "pod"},
	model.IntegrationAI:        {"llm", "machine learning", " ml ", " ai ", "embedding", "model inference"},
	model.IntegrationMessaging: {"kafka", "pubsub", "websocket", "nats", "mqtt"},
	model.IntegrationVCS:       {"github", "gitlab", "bitbucket", "git hook"},
}

// Complexity classifies the task into a tier from weighted keyword scoring
// and decides which later phases run.
type Complexity struct{}

func (c *Complexity) Name() string     { return pipeline.PhaseComplexity }
func (c *Complexity) Artifact() string { return pipeline.ArtifactComplexity }

func (c *Complexity) Run(_ context.Context, st *pipeline.State) error {
	assessment := Assess(st.TaskDescription, st.Index)
	if err := writeArtifact(st.SpecDir, pipeline.ArtifactComplexity, assessment); err != nil {
		return err
	}
	st.Assessment = assessment
	return nil
}

func (c *Complexity) Load(st *pipeline.State) error {
	var assessment model.ComplexityAssessment
	if err := readArtifact(st.SpecDir, pipeline.ArtifactComplexity, &assessment); err != nil {
		return err
	}
	st.Assessment = &assessment
	return nil
}

// Assess scores a task description against the keyword families, detected
// integrations, and infrastructure hints, and maps the sum to a tier.
func Assess(task string, idx *model.ProjectIndex) *model.ComplexityAssessment {
	lower := " " + strings.ToLower(task) + " "

	score := 0
	score += countHits(lower, simpleKeywords) * weightSimple
	score += countHits(lower, standardKeywords) * weightStandard
	score += countHits(lower, complexKeywords) * weightComplex
	score += countHits(lower, criticalKeywords) * weightCritical
	multiService := countHits(lower, multiServiceKeywords)
	score += multiService * weightMultiService

	integrations := DetectIntegrations(lower)
	score += len(integrations) * weightIntegration

	infra := countHits(lower, infrastructureKeywords) > 0
	if infra {
		score += weightInfra
	}

	estimatedFiles := 1 + score/2
	estimatedServices := 1
	if multiService > 0 {
		estimatedServices = 2
		if idx != nil && len(idx.Services) > 2 {
			estimatedServices = len(idx.Services)
		}
		score += weightMultiService
	}

	tier := tierForScore(score)
	return &model.ComplexityAssessment{
		Complexity:             tier,
		Score:                  score,
		ExternalIntegrations:   integrations,
		InfrastructureChanges:  infra,
		NeedsImpactAnalysis:    tier == model.ComplexityComplex || tier == model.ComplexityCritical,
		EstimatedFilesAffected: estimatedFiles,
		EstimatedServices:      estimatedServices,
	}
}

// DetectIntegrations returns the external integration families named in a
// lower-cased task description, sorted for deterministic output.
func DetectIntegrations(lowerTask string) []model.ExternalIntegration {
	var found []model.ExternalIntegration
	for family, words := range integrationKeywords {
		for _, word := range words {
			if strings.Contains(lowerTask, word) {
				found = append(found, family)
				break
			}
		}
	}
	sort.Slice(found, func(i, j int) bool { return found[i] < found[j] })
	return found
}

func countHits(lowerTask string, words []string) int {
	hits := 0
	for _, word := range words {
		if strings.Contains(lowerTask, word) {
			hits++
		}
	}
	return hits
}

func tierForScore(score int) model.ComplexityTier {
	switch {
	case score >= thresholdCritical:
		return model.ComplexityCritical
	case score >= thresholdComplex:
		return model.ComplexityComplex
	case score >= thresholdStandard:
		return model.ComplexityStandard
	default:
		return model.ComplexitySimple
	}
}
