// Package schema defines the record shapes mirrored from the remote curriculum.
//
// # Overview
//
// The curriculum is a strict tree of four record kinds:
//
//	Grade (scope key, remote only)
//	  └── Subject   (grade_id)
//	        └── Topic     (subject_id)
//	              └── Lesson    (topic_id)
//	                    └── Assessment (lesson_id)
//
// Ids are assigned by the remote source and are unique per kind. The local
// store never generates ids and never rejects a record for a dangling parent;
// orphans are simply unreachable by traversal.
//
// # Lessons and media
//
// A Lesson may carry a media reference (MediaURL + MediaType). The binary
// payload itself lives outside the Lesson record so that replacing lesson
// metadata never discards a downloaded file. IsOffline is derived by the store
// and is true exactly when a payload for the current MediaURL is present.
//
// # Quizzes
//
// Assessment.QuizData is kept as raw JSON exactly as received, and its type
// shape is checked against QuizSchema before it is stored:
//
//	{
//	  "questions": [
//	    {
//	      "id": "q1",
//	      "question_text": "What is 1/2 + 1/4?",
//	      "options": [
//	        {"id": "a", "text": "3/4", "is_correct": true},
//	        {"id": "b", "text": "2/6", "is_correct": false}
//	      ]
//	    }
//	  ]
//	}
package schema
