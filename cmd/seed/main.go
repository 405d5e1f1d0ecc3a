// Seeds a demo corpus: two users, two courses with modules and lessons,
// and enrollments. Safe to run once against an empty database.
package main

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/crypto/bcrypt"

	"github.com/coursekb/coursekb-backend/internal/data/db"
	"github.com/coursekb/coursekb-backend/internal/data/repos/auth"
	"github.com/coursekb/coursekb-backend/internal/data/repos/learning"
	types "github.com/coursekb/coursekb-backend/internal/domain"
	"github.com/coursekb/coursekb-backend/internal/platform/envutil"
	"github.com/coursekb/coursekb-backend/internal/platform/logger"
)

type seedLesson struct {
	title   string
	content string
}

type seedModule struct {
	title   string
	lessons []seedLesson
}

type seedCourse struct {
	title       string
	description string
	modules     []seedModule
}

var demoCourses = []seedCourse{
	{
		title:       "Networking 101",
		description: "Foundations of computer networking.",
		modules: []seedModule{
			{
				title: "The Transport Layer",
				lessons: []seedLesson{
					{
						title: "TCP Basics",
						content: "TCP provides a reliable, ordered byte stream between two hosts. " +
							"A connection begins with a three-way handshake. The client sends a SYN segment with an initial sequence number. " +
							"The server replies with a SYN-ACK that acknowledges the client's sequence number and proposes its own. " +
							"The client completes the handshake with an ACK, after which both sides may send data. " +
							"Sequence numbers let the receiver reorder segments and detect losses, and acknowledgements drive retransmission.",
					},
					{
						title: "Congestion Control",
						content: "Congestion control keeps senders from overwhelming the network. " +
							"TCP starts in slow start, doubling the congestion window each round trip until it reaches the slow start threshold. " +
							"It then switches to congestion avoidance, growing the window linearly. " +
							"A lost segment signals congestion: the sender halves its threshold and either retransmits quickly on duplicate ACKs or falls back to slow start after a timeout.",
					},
				},
			},
			{
				title: "Routing",
				lessons: []seedLesson{
					{
						title: "How Routing Tables Are Built",
						content: "Routers forward packets using a routing table mapping destination prefixes to next hops. " +
							"Interior gateway protocols such as OSPF flood link-state advertisements so every router can compute shortest paths with Dijkstra's algorithm. " +
							"Between autonomous systems, BGP exchanges path vectors and applies policy to choose routes. " +
							"The longest matching prefix wins when several entries cover a destination.",
					},
				},
			},
		},
	},
	{
		title:       "Databases 201",
		description: "Storage engines and query processing.",
		modules: []seedModule{
			{
				title: "Indexes",
				lessons: []seedLesson{
					{
						title: "B-Tree Indexes",
						content: "A B-tree keeps keys sorted in pages with a high branching factor, so lookups touch only a few pages even for large tables. " +
							"Range scans walk the leaf level in order. Inserts split full pages and deletes may merge underfull ones, keeping the tree balanced. " +
							"Secondary indexes store the indexed columns plus a pointer to the row, so covering indexes can answer queries without visiting the heap.",
					},
				},
			},
		},
	},
}

func main() {
	log, err := logger.New("development")
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Fatal("Postgres init failed", "error", err)
	}
	if err := postgresService.Migrate(); err != nil {
		log.Fatal("Postgres migration failed", "error", err)
	}
	thePG := postgresService.DB()

	ctx := context.Background()
	userRepo := auth.NewUserRepo(thePG, log)
	courseRepo := learning.NewCourseRepo(thePG, log)
	moduleRepo := learning.NewCourseModuleRepo(thePG, log)
	lessonRepo := learning.NewLessonRepo(thePG, log)
	enrollmentRepo := learning.NewEnrollmentRepo(thePG, log)

	password := envutil.GetEnv("SEED_PASSWORD", "changeme", log)
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		log.Fatal("Password hashing failed", "error", err)
	}

	admin := seedUser(ctx, log, userRepo, "admin@coursekb.dev", "Admin", "admin", string(hash))
	student := seedUser(ctx, log, userRepo, "student@coursekb.dev", "Demo Student", "student", string(hash))

	for _, sc := range demoCourses {
		course, err := courseRepo.Create(ctx, nil, &types.Course{
			Title:       sc.title,
			Description: sc.description,
		})
		if err != nil {
			log.Fatal("Course create failed", "title", sc.title, "error", err)
		}
		for mi, sm := range sc.modules {
			module, err := moduleRepo.Create(ctx, nil, &types.CourseModule{
				CourseID: course.ID,
				Title:    sm.title,
				Position: mi,
			})
			if err != nil {
				log.Fatal("Module create failed", "title", sm.title, "error", err)
			}
			for li, sl := range sm.lessons {
				if _, err := lessonRepo.Create(ctx, nil, &types.Lesson{
					ModuleID: module.ID,
					Title:    sl.title,
					Content:  sl.content,
					Position: li,
				}); err != nil {
					log.Fatal("Lesson create failed", "title", sl.title, "error", err)
				}
			}
		}

		for _, u := range []*types.User{admin, student} {
			if _, err := enrollmentRepo.Create(ctx, nil, &types.Enrollment{
				UserID:   u.ID,
				CourseID: course.ID,
				Status:   types.EnrollmentConfirmed,
			}); err != nil {
				log.Fatal("Enrollment create failed", "course", sc.title, "error", err)
			}
		}
		log.Info("Seeded course", "title", sc.title)
	}

	log.Info("Seed complete")
}

func seedUser(ctx context.Context, log *logger.Logger, repo auth.UserRepo, email, name, role, hash string) *types.User {
	existing, err := repo.GetByEmail(ctx, nil, email)
	if err != nil {
		log.Fatal("User lookup failed", "error", err)
	}
	if existing != nil {
		log.Info("User already exists, skipping")
		return existing
	}
	user, err := repo.Create(ctx, nil, &types.User{
		Email:    email,
		Password: hash,
		FullName: name,
		Role:     role,
	})
	if err != nil {
		log.Fatal("User create failed", "error", err)
	}
	return user
}
