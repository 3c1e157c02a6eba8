package submission

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"formbase/internal/api"
	"formbase/internal/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const dateLayout = "2006-01-02"

var (
	// ErrSubmissionNotFound is returned for unknown submission uids.
	ErrSubmissionNotFound = errors.New("submission not found")
	// ErrSurveyNotMapped is returned when the survey has no DHIS2 mapping.
	// No log row is written in that case: nothing was attempted.
	ErrSurveyNotMapped = errors.New("survey has no DHIS2 mapping")
)

// Service pushes survey submissions to DHIS2 as tracker data. Every attempt
// appends one row to the submission log; retries reuse the TEI created by an
// earlier attempt instead of duplicating it.
type Service struct {
	db       *gorm.DB
	resolver *api.Resolver
	logger   *zap.Logger
}

// NewService creates a submission service.
func NewService(db *gorm.DB, resolver *api.Resolver, logger *zap.Logger) *Service {
	return &Service{db: db, resolver: resolver, logger: logger}
}

// IsReadyForSubmission reports whether the survey is mapped to DHIS2. An
// unknown survey is simply not ready, not an error.
func (s *Service) IsReadyForSubmission(surveyID string) (bool, error) {
	var survey models.Survey
	if err := s.db.Where("id = ?", surveyID).First(&survey).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to load survey: %w", err)
	}
	return survey.Dhis2InstanceKey != "" && survey.ProgramUID != "", nil
}

// Logs returns all submission-log rows for one submission, oldest first.
func (s *Service) Logs(submissionUID string) ([]models.SubmissionLog, error) {
	var logs []models.SubmissionLog
	if err := s.db.Where("submission_uid = ?", submissionUID).
		Order("id").Find(&logs).Error; err != nil {
		return nil, fmt.Errorf("failed to load submission logs: %w", err)
	}
	return logs, nil
}

// ProcessSubmission pushes one submission to DHIS2. A retry of an already
// successful submission is skipped unless force is set; a retry after a
// partial failure reuses the TEI the earlier attempt created. Exactly one
// log row is appended per attempt.
func (s *Service) ProcessSubmission(submissionUID string, force bool) (*Result, error) {
	var sub models.Submission
	if err := s.db.Preload("Responses").Where("uid = ?", submissionUID).First(&sub).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrSubmissionNotFound, submissionUID)
		}
		return nil, fmt.Errorf("failed to load submission: %w", err)
	}

	var survey models.Survey
	if err := s.db.Preload("FieldMappings").Where("id = ?", sub.SurveyID).First(&survey).Error; err != nil {
		return nil, fmt.Errorf("failed to load survey %s: %w", sub.SurveyID, err)
	}
	// Re-checked here, not only at enqueue time: the mapping may have been
	// removed since. Nothing was attempted, so no log row.
	if survey.Dhis2InstanceKey == "" || survey.ProgramUID == "" {
		return nil, fmt.Errorf("%w: %s", ErrSurveyNotMapped, survey.ID)
	}

	prior, err := s.Logs(submissionUID)
	if err != nil {
		return nil, err
	}
	retries := len(prior)

	if !force {
		for _, l := range prior {
			if l.Status == models.SubmissionStatusSuccess {
				s.appendLog(submissionUID, models.SubmissionStatusSkipped, "", "",
					"already submitted successfully; use force to resubmit", l.TeiUID, retries)
				return &Result{
					Success: true,
					Status:  models.SubmissionStatusSkipped,
					Message: "already submitted successfully",
					TeiUID:  l.TeiUID,
				}, nil
			}
		}
	}

	return s.attempt(&sub, &survey, prior, retries)
}

// attempt is one real push: build payloads, post TEI, enrollment and events
// in order, abort on the first failure, log exactly once.
func (s *Service) attempt(sub *models.Submission, survey *models.Survey, prior []models.SubmissionLog, retries int) (*Result, error) {
	client, err := s.resolver.ClientFor(survey.Dhis2InstanceKey)
	if err != nil {
		return s.failed(sub.UID, "", "", "", fmt.Sprintf("failed to resolve instance: %v", err), retries), nil
	}

	orgUnit := sub.FacilityUID
	if orgUnit == "" {
		orgUnit = survey.OrgUnitDefault
	}
	if orgUnit == "" {
		return s.failed(sub.UID, "", "", "", "no organisation unit on submission or survey", retries), nil
	}

	eventDate := sub.Period
	if eventDate == "" {
		eventDate = sub.CreatedAt.Format(dateLayout)
	}

	values := responseValues(sub.Responses)
	attributes := buildAttributes(survey, sub.UID, values)
	events := buildEvents(survey, orgUnit, eventDate, values)

	teiUID, reused := s.reusableTEI(client, survey, sub.UID, orgUnit, prior)

	bundle := payloadBundle{Events: events}
	var lastBody string

	if teiUID == "" {
		tei := &TrackedEntityInstance{
			TrackedEntityType: survey.TrackedEntityTypeUID,
			OrgUnit:           orgUnit,
			Attributes:        attributes,
		}
		bundle.TrackedEntityInstance = tei

		_, body, err := client.Post("api/trackedEntityInstances", tei)
		lastBody = string(body)
		if err != nil {
			return s.failed(sub.UID, marshal(bundle), lastBody, "", fmt.Sprintf("TEI creation failed: %v", err), retries), nil
		}

		teiUID, err = teiReference(body)
		if err != nil {
			return s.failed(sub.UID, marshal(bundle), lastBody, "", err.Error(), retries), nil
		}
	}

	enrollment := &Enrollment{
		TrackedEntityInstance: teiUID,
		Program:               survey.ProgramUID,
		OrgUnit:               orgUnit,
		EnrollmentDate:        eventDate,
		IncidentDate:          eventDate,
		Status:                "ACTIVE",
	}
	bundle.Enrollment = enrollment

	_, body, err := client.Post("api/enrollments", enrollment)
	lastBody = string(body)
	if err != nil {
		if !reused {
			return s.failed(sub.UID, marshal(bundle), lastBody, teiUID, fmt.Sprintf("enrollment failed: %v", err), retries), nil
		}
		// A reused TEI is usually already enrolled; the remote rejects the
		// duplicate. Carry on to the events.
		s.logger.Warn("enrollment rejected for reused TEI, continuing",
			zap.String("submission_uid", sub.UID), zap.String("tei_uid", teiUID), zap.Error(err))
	}

	if len(events) > 0 {
		for i := range events {
			events[i].TrackedEntityInstance = teiUID
		}
		_, body, err = client.Post("api/events", map[string][]Event{"events": events})
		lastBody = string(body)
		if err != nil {
			// TEI uid travels on the FAILED row so the retry can reuse it
			return s.failed(sub.UID, marshal(bundle), lastBody, teiUID, fmt.Sprintf("event push failed: %v", err), retries), nil
		}
	}

	s.appendLog(sub.UID, models.SubmissionStatusSuccess, marshal(bundle), lastBody, "", teiUID, retries)
	s.logger.Info("submission pushed to DHIS2",
		zap.String("submission_uid", sub.UID),
		zap.String("tei_uid", teiUID),
		zap.Bool("tei_reused", reused),
		zap.Int("retries", retries))

	return &Result{Success: true, Status: models.SubmissionStatusSuccess, TeiUID: teiUID}, nil
}

// reusableTEI finds a TEI created by an earlier attempt: first from prior log
// rows, then by querying the remote for the submission-uid attribute. Lookup
// failures degrade to creating a fresh TEI.
func (s *Service) reusableTEI(client *api.Client, survey *models.Survey, submissionUID, orgUnit string, prior []models.SubmissionLog) (string, bool) {
	for i := len(prior) - 1; i >= 0; i-- {
		if prior[i].TeiUID != "" {
			return prior[i].TeiUID, true
		}
	}

	if survey.SubmissionUIDAttribute == "" || len(prior) == 0 {
		return "", false
	}

	var result teiQueryResponse
	params := map[string]string{
		"program": survey.ProgramUID,
		"ou":      orgUnit,
		"filter":  fmt.Sprintf("%s:EQ:%s", survey.SubmissionUIDAttribute, submissionUID),
		"fields":  "trackedEntityInstance",
	}
	if err := client.GetJSON("api/trackedEntityInstances.json", params, &result); err != nil {
		s.logger.Warn("remote TEI lookup failed, will create a new TEI",
			zap.String("submission_uid", submissionUID), zap.Error(err))
		return "", false
	}
	if len(result.TrackedEntityInstances) == 0 {
		return "", false
	}
	return result.TrackedEntityInstances[0].TrackedEntityInstance, true
}

func (s *Service) failed(submissionUID, payload, response, teiUID, message string, retries int) *Result {
	s.logger.Error("submission push failed",
		zap.String("submission_uid", submissionUID), zap.String("message", message))
	s.appendLog(submissionUID, models.SubmissionStatusFailed, payload, response, message, teiUID, retries)
	return &Result{Success: false, Status: models.SubmissionStatusFailed, Message: message, TeiUID: teiUID}
}

func (s *Service) appendLog(submissionUID, status, payload, response, message, teiUID string, retries int) {
	row := models.SubmissionLog{
		SubmissionUID: submissionUID,
		Status:        status,
		Payload:       payload,
		Response:      response,
		Message:       message,
		TeiUID:        teiUID,
		Retries:       retries,
		SubmittedAt:   time.Now(),
	}
	if err := s.db.Create(&row).Error; err != nil {
		s.logger.Error("failed to write submission log",
			zap.String("submission_uid", submissionUID), zap.Error(err))
	}
}

// responseValues folds responses into one value per question; multi-select
// answers (multiple rows) join with commas.
func responseValues(responses []models.SubmissionResponse) map[string]string {
	values := make(map[string]string, len(responses))
	for _, r := range responses {
		if existing, ok := values[r.QuestionID]; ok {
			values[r.QuestionID] = existing + "," + r.Value
			continue
		}
		values[r.QuestionID] = r.Value
	}
	return values
}

func buildAttributes(survey *models.Survey, submissionUID string, values map[string]string) []TrackedEntityAttribute {
	var attrs []TrackedEntityAttribute
	for _, m := range survey.FieldMappings {
		if m.ElementKind != models.ElementKindAttribute {
			continue
		}
		value, ok := values[m.QuestionID]
		if !ok {
			continue
		}
		attrs = append(attrs, TrackedEntityAttribute{Attribute: m.Dhis2Element, Value: value})
	}
	if survey.SubmissionUIDAttribute != "" {
		attrs = append(attrs, TrackedEntityAttribute{Attribute: survey.SubmissionUIDAttribute, Value: submissionUID})
	}
	return attrs
}

// buildEvents groups data-element mappings into one COMPLETED event per
// program stage, in mapping order.
func buildEvents(survey *models.Survey, orgUnit, eventDate string, values map[string]string) []Event {
	byStage := make(map[string][]EventDataValue)
	var stageOrder []string

	for _, m := range survey.FieldMappings {
		if m.ElementKind != models.ElementKindDataElement {
			continue
		}
		value, ok := values[m.QuestionID]
		if !ok {
			continue
		}
		if _, seen := byStage[m.ProgramStageUID]; !seen {
			stageOrder = append(stageOrder, m.ProgramStageUID)
		}
		byStage[m.ProgramStageUID] = append(byStage[m.ProgramStageUID], EventDataValue{
			DataElement: m.Dhis2Element,
			Value:       value,
		})
	}

	events := make([]Event, 0, len(stageOrder))
	for _, stage := range stageOrder {
		events = append(events, Event{
			Program:      survey.ProgramUID,
			ProgramStage: stage,
			OrgUnit:      orgUnit,
			EventDate:    eventDate,
			Status:       "COMPLETED",
			DataValues:   byStage[stage],
		})
	}
	return events
}

func teiReference(body []byte) (string, error) {
	var parsed teiImportResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("unparseable TEI import response: %w", err)
	}
	for _, summary := range parsed.Response.ImportSummaries {
		if summary.Reference != "" && !strings.EqualFold(summary.Status, "ERROR") {
			return summary.Reference, nil
		}
	}
	return "", errors.New("TEI import response carries no reference")
}

func marshal(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}
