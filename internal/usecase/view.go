package usecase

import (
	"github.com/example/breed-identifier/internal/classifier"
	"github.com/example/breed-identifier/internal/machine"
)

// Button actions.
const (
	ActionNone     = "none"
	ActionLoad     = "load"
	ActionUpload   = "upload"
	ActionIdentify = "identify"
	ActionReset    = "reset"
)

// Button is the single control rendered for a state.
type Button struct {
	Label   string `json:"label"`
	Action  string `json:"action"`
	Enabled bool   `json:"enabled"`
}

// View is everything a front end needs to render a session.
type View struct {
	SessionID   string                  `json:"session_id"`
	State       machine.State           `json:"state"`
	Button      Button                  `json:"button"`
	ShowImage   bool                    `json:"show_image"`
	ImageURL    string                  `json:"image_url,omitempty"`
	ShowResults bool                    `json:"show_results"`
	Results     []string                `json:"results"`
	Predictions []classifier.Prediction `json:"predictions,omitempty"`
	Error       string                  `json:"error,omitempty"`
}

func buttonFor(state machine.State) Button {
	switch state {
	case machine.Initial:
		return Button{Label: "Load Model", Action: ActionLoad, Enabled: true}
	case machine.LoadingModel:
		return Button{Label: "Loading the Model...", Action: ActionNone}
	case machine.AwaitingUpload:
		return Button{Label: "Upload an Image", Action: ActionUpload, Enabled: true}
	case machine.Ready:
		return Button{Label: "Identify Breed", Action: ActionIdentify, Enabled: true}
	case machine.Classifying:
		return Button{Label: "Identifying the Breed...", Action: ActionNone}
	case machine.Complete:
		return Button{Label: "Reset", Action: ActionReset, Enabled: true}
	case machine.LoadError:
		return Button{Label: "Retry Loading the Model", Action: ActionLoad, Enabled: true}
	default:
		return Button{Action: ActionNone}
	}
}

// View renders the session. Visibility comes only from the state's flags.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()

	flags := s.state.Machine.Flags()
	view := View{
		SessionID:   s.ID,
		State:       s.state.Machine,
		Button:      buttonFor(s.state.Machine),
		ShowImage:   flags.ShowImage,
		ShowResults: flags.ShowResults,
		Results:     []string{},
		Error:       s.state.Message,
	}
	if flags.ShowImage && s.state.Image != nil {
		view.ImageURL = s.state.Image.URL
	}
	if flags.ShowResults {
		for _, p := range s.state.Results {
			view.Results = append(view.Results, classifier.Format(p))
		}
		view.Predictions = append([]classifier.Prediction(nil), s.state.Results...)
	}
	return view
}
