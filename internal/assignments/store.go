package assignments

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/benmeehan/fleet-monitor/internal/models"
	"github.com/benmeehan/fleet-monitor/pkg/file"
	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/rs/zerolog"
)

// ErrInvalidData is returned for documents with missing sections and for
// references to unknown customers.
var ErrInvalidData = errors.New("invalid assignment data")

// Store keeps device display names and customer assignments in memory and
// persists every change to a JSON document on disk.
type Store struct {
	filePath   string
	fileClient file.FileOperations
	logger     zerolog.Logger

	// mu serialises writers; readers go straight to the concurrent maps.
	mu          sync.Mutex
	customers   cmap.ConcurrentMap[string, models.Customer]
	order       []string
	names       cmap.ConcurrentMap[string, string]
	assignments cmap.ConcurrentMap[string, string]
}

// NewStore creates an empty store backed by filePath.
func NewStore(filePath string, fileClient file.FileOperations, logger zerolog.Logger) *Store {
	return &Store{
		filePath:    filePath,
		fileClient:  fileClient,
		logger:      logger,
		customers:   cmap.New[models.Customer](),
		names:       cmap.New[string](),
		assignments: cmap.New[string](),
	}
}

// Load reads the document from disk. A missing file leaves the store empty.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	exists, err := s.fileClient.IsFileExists(s.filePath)
	if err != nil {
		return fmt.Errorf("error checking assignment file %s: %w", s.filePath, err)
	}
	if !exists {
		s.logger.Info().Str("file", s.filePath).Msg("Assignment file not found, starting empty")
		s.apply(models.AssignmentData{})
		return nil
	}

	var data models.AssignmentData
	if err := s.fileClient.ReadJsonFile(s.filePath, &data); err != nil {
		s.logger.Error().Err(err).Str("file", s.filePath).Msg("Failed to read assignment file")
		return fmt.Errorf("error reading assignment file %s: %w", s.filePath, err)
	}

	s.apply(data)
	s.logger.Info().
		Int("customers", len(data.Customers)).
		Int("names", len(data.DeviceNames)).
		Int("assignments", len(data.Assignments)).
		Msg("Assignments loaded")
	return nil
}

// Data returns a copy of the whole document. Sections are never nil.
func (s *Store) Data() models.AssignmentData {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data()
}

// Replace swaps the whole document. All three sections must be present.
func (s *Store) Replace(data models.AssignmentData) error {
	if data.Customers == nil || data.DeviceNames == nil || data.Assignments == nil {
		return fmt.Errorf("%w: customers, deviceNames and assignments are required", ErrInvalidData)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.persist(data); err != nil {
		return err
	}
	s.apply(data)
	return nil
}

// Rename sets the display name of a device. An empty name removes it.
func (s *Store) Rename(deviceID, name string) error {
	name = strings.TrimSpace(name)

	s.mu.Lock()
	defer s.mu.Unlock()

	data := s.data()
	if name == "" {
		delete(data.DeviceNames, deviceID)
	} else {
		data.DeviceNames[deviceID] = name
	}

	if err := s.persist(data); err != nil {
		return err
	}
	if name == "" {
		s.names.Remove(deviceID)
	} else {
		s.names.Set(deviceID, name)
	}
	return nil
}

// Assign moves a device to customerID. An empty customerID unassigns it.
func (s *Store) Assign(deviceID, customerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if customerID != "" && !s.customers.Has(customerID) {
		return fmt.Errorf("%w: unknown customer %q", ErrInvalidData, customerID)
	}

	data := s.data()
	if customerID == "" {
		delete(data.Assignments, deviceID)
	} else {
		data.Assignments[deviceID] = customerID
	}

	if err := s.persist(data); err != nil {
		return err
	}
	if customerID == "" {
		s.assignments.Remove(deviceID)
	} else {
		s.assignments.Set(deviceID, customerID)
	}
	return nil
}

// Lookup returns the assignment of one device.
func (s *Store) Lookup(deviceID string) models.Assignment {
	name, _ := s.names.Get(deviceID)
	customerID, _ := s.assignments.Get(deviceID)
	return models.Assignment{DisplayName: name, CustomerID: customerID}
}

// Assignments returns every device with a display name or customer.
func (s *Store) Assignments() map[string]models.Assignment {
	out := make(map[string]models.Assignment, s.names.Count())
	for id, name := range s.names.Items() {
		a := out[id]
		a.DisplayName = name
		out[id] = a
	}
	for id, customerID := range s.assignments.Items() {
		a := out[id]
		a.CustomerID = customerID
		out[id] = a
	}
	return out
}

// Customer returns one customer by id.
func (s *Store) Customer(id string) (models.Customer, bool) {
	return s.customers.Get(id)
}

func (s *Store) data() models.AssignmentData {
	data := models.AssignmentData{
		Customers:   make([]models.Customer, 0, len(s.order)),
		DeviceNames: s.names.Items(),
		Assignments: s.assignments.Items(),
	}
	for _, id := range s.order {
		if c, ok := s.customers.Get(id); ok {
			data.Customers = append(data.Customers, c)
		}
	}
	return data
}

func (s *Store) apply(data models.AssignmentData) {
	s.customers.Clear()
	s.order = s.order[:0]
	for _, c := range data.Customers {
		if !s.customers.Has(c.ID) {
			s.order = append(s.order, c.ID)
		}
		s.customers.Set(c.ID, c)
	}

	s.names.Clear()
	s.names.MSet(data.DeviceNames)
	s.assignments.Clear()
	s.assignments.MSet(data.Assignments)
}

func (s *Store) persist(data models.AssignmentData) error {
	if err := s.fileClient.WriteJsonFile(s.filePath, data); err != nil {
		s.logger.Error().Err(err).Str("file", s.filePath).Msg("Failed to write assignment file")
		return fmt.Errorf("error writing assignment file %s: %w", s.filePath, err)
	}
	return nil
}
