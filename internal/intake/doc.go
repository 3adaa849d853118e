// Package intake accepts uploaded documents: it stores each file under the
// upload directory, checks it is a readable PDF, creates the job and hands
// it to the lanes.
package intake
