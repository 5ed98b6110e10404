package server

import (
	"net/http"

	"github.com/gorilla/mux"
)

// Operation is the fixed set a request classifies into.
type Operation int

const (
	OpInvalid Operation = iota
	OpUnprocessable
	OpEmpty
	OpCreateConsumer
	OpDeleteConsumer
	OpSubscribe
	OpUnsubscribe
	OpAssign
	OpPoll
	OpCommit
	OpSeek
	OpSeekToBeginning
	OpSeekToEnd
	OpProduce
	OpHealth
)

var operationNames = map[Operation]string{
	OpInvalid:         "INVALID",
	OpUnprocessable:   "UNPROCESSABLE",
	OpEmpty:           "EMPTY",
	OpCreateConsumer:  "CREATE_CONSUMER",
	OpDeleteConsumer:  "DELETE_CONSUMER",
	OpSubscribe:       "SUBSCRIBE",
	OpUnsubscribe:     "UNSUBSCRIBE",
	OpAssign:          "ASSIGN",
	OpPoll:            "POLL",
	OpCommit:          "COMMIT",
	OpSeek:            "SEEK",
	OpSeekToBeginning: "SEEK_TO_BEGINNING",
	OpSeekToEnd:       "SEEK_TO_END",
	OpProduce:         "PRODUCE",
	OpHealth:          "HEALTH",
}

func (o Operation) String() string {
	return operationNames[o]
}

// Path parameter names.
const (
	prmGroup = "group"
	prmName  = "name"
	prmTopic = "topic"
)

// Classifier maps method plus path to an operation. Classification is purely
// syntactic; body validation belongs to the operation handlers. It is backed
// by a named-route router so that the route table exists in exactly one
// place.
type Classifier struct {
	router *mux.Router
}

// NewClassifier builds the classifier with the bridge route table.
func NewClassifier() *Classifier {
	r := mux.NewRouter()

	instance := "/consumers/{" + prmGroup + "}/instances/{" + prmName + "}"
	route := func(op Operation, method, path string) {
		r.NewRoute().Name(op.String()).Methods(method).Path(path)
	}
	route(OpCreateConsumer, http.MethodPost, "/consumers/{"+prmGroup+"}")
	route(OpDeleteConsumer, http.MethodDelete, instance)
	route(OpSubscribe, http.MethodPost, instance+"/subscription")
	route(OpUnsubscribe, http.MethodDelete, instance+"/subscription")
	route(OpAssign, http.MethodPost, instance+"/assignments")
	route(OpPoll, http.MethodGet, instance+"/records")
	route(OpCommit, http.MethodPost, instance+"/offsets")
	route(OpSeek, http.MethodPost, instance+"/positions")
	route(OpSeekToBeginning, http.MethodPost, instance+"/positions/beginning")
	route(OpSeekToEnd, http.MethodPost, instance+"/positions/end")
	route(OpProduce, http.MethodPost, "/topics/{"+prmTopic+"}")
	route(OpHealth, http.MethodGet, "/healthz")

	return &Classifier{router: r}
}

var operationsByName = func() map[string]Operation {
	m := make(map[string]Operation, len(operationNames))
	for op, name := range operationNames {
		m[name] = op
	}
	return m
}()

// Classify resolves a request to its operation and path parameters.
func (c *Classifier) Classify(r *http.Request) (Operation, map[string]string) {
	if r.URL.Path == "" || r.URL.Path == "/" {
		return OpEmpty, nil
	}

	var match mux.RouteMatch
	if c.router.Match(r, &match) {
		return operationsByName[match.Route.GetName()], match.Vars
	}
	if match.MatchErr == mux.ErrMethodMismatch {
		return OpUnprocessable, nil
	}
	return OpInvalid, nil
}
