package firebase

import (
	"context"
	"fmt"
	"log"
	"os"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"firebase.google.com/go/v4/messaging"
	"firebase.google.com/go/v4/storage"
	"google.golang.org/api/option"
)

// Options selects the Firebase project. An empty CredentialsPath falls back
// to application default credentials.
type Options struct {
	CredentialsPath string
	ProjectID       string
	StorageBucket   string
}

// App holds the initialized Firebase app and its service clients
type App struct {
	FirebaseApp *firebase.App
	AuthClient  *auth.Client
	Messaging   *messaging.Client
	Storage     *storage.Client
}

// InitFirebase initializes the Firebase application and the auth,
// messaging and storage clients
func InitFirebase(ctx context.Context, o Options) (*App, error) {
	var opts []option.ClientOption
	if o.CredentialsPath != "" {
		// Check if the credentials file exists
		if _, err := os.Stat(o.CredentialsPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("firebase credentials file not found at %s", o.CredentialsPath)
		}
		opts = append(opts, option.WithCredentialsFile(o.CredentialsPath))
	}

	firebaseApp, err := firebase.NewApp(ctx, &firebase.Config{
		ProjectID:     o.ProjectID,
		StorageBucket: o.StorageBucket,
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("error initializing firebase app: %w", err)
	}

	authClient, err := firebaseApp.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting firebase auth client: %w", err)
	}
	messagingClient, err := firebaseApp.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting firebase messaging client: %w", err)
	}
	storageClient, err := firebaseApp.Storage(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting firebase storage client: %w", err)
	}

	log.Println("Firebase app, auth, messaging and storage clients initialized successfully!")
	return &App{
		FirebaseApp: firebaseApp,
		AuthClient:  authClient,
		Messaging:   messagingClient,
		Storage:     storageClient,
	}, nil
}

// Firestore opens a Firestore client. The caller closes it.
func (a *App) Firestore(ctx context.Context) (*firestore.Client, error) {
	client, err := a.FirebaseApp.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting firestore client: %w", err)
	}
	return client, nil
}
